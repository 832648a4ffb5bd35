package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DetectRoot returns the application root. An executable installed as
// <root>/bin/dencho next to <root>/dencho.yaml runs in install mode rooted
// at <root>; anything else is rooted at the working directory.
func DetectRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		exe = ""
	} else if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return resolveRoot(exe, cwd), nil
}

func resolveRoot(exe, cwd string) string {
	if exe == "" {
		return cwd
	}
	exeDir := filepath.Dir(exe)
	if filepath.Base(exeDir) != "bin" {
		return cwd
	}
	root := filepath.Dir(exeDir)
	if _, err := os.Stat(filepath.Join(root, FileName)); err != nil {
		return cwd
	}
	return root
}

// FindFile returns root/dencho.yaml if it exists, else "".
func FindFile(root string) string {
	path := filepath.Join(root, FileName)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}
	return ""
}
