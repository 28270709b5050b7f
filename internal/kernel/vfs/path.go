package vfs

import (
	"fmt"
	"strings"
)

// Canonicalize resolves "." and ".." components and collapses repeated
// slashes, returning an absolute, slash-separated path with no trailing
// slash (except the root itself, "/"). It does not touch the filesystem —
// ".." above the root is simply clamped, matching how most Unix-like
// kernels treat "/.." as "/" rather than an error.
func Canonicalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("vfs: empty path")
	}
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("vfs: path %q is not absolute", path)
	}

	var stack []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}

	if len(stack) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(stack, "/"), nil
}

// Split returns the parent directory and final component of an already
// canonical path; Split("/") returns ("/", "").
func Split(path string) (dir, name string) {
	if path == "/" {
		return "/", ""
	}
	idx := strings.LastIndexByte(path, '/')
	if idx == 0 {
		return "/", path[1:]
	}
	return path[:idx], path[idx+1:]
}
