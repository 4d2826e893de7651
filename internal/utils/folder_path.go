package utils

import "strings"

const FolderSeparator = "/"

// NormalizeFolderPath rewrites a server mailbox name to a "/"-separated path.
// An empty delimiter means the server has a flat namespace.
func NormalizeFolderPath(name, delimiter string) string {
	if delimiter != "" && delimiter != FolderSeparator {
		name = strings.ReplaceAll(name, delimiter, FolderSeparator)
	}
	return strings.Trim(name, FolderSeparator)
}

// ServerFolderName is the inverse of NormalizeFolderPath.
func ServerFolderName(path, delimiter string) string {
	if delimiter == "" || delimiter == FolderSeparator {
		return path
	}
	return strings.ReplaceAll(path, FolderSeparator, delimiter)
}

// ParentFolderPath drops the last path segment. Top-level folders have no parent.
func ParentFolderPath(path string) (string, bool) {
	idx := strings.LastIndex(path, FolderSeparator)
	if idx <= 0 {
		return "", false
	}
	return path[:idx], true
}

func FolderLeafName(path string) string {
	idx := strings.LastIndex(path, FolderSeparator)
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
