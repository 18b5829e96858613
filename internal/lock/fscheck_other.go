//go:build !darwin && !linux

package lock

func detectFilesystemType(string) (string, error) {
	return "", errDetectUnsupported
}
