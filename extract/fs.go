package extract

import "os"

// statReadable confirms path exists and is a regular, readable file, the
// dispatch-time check that produces FileAccess before any extractor runs.
func statReadable(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, os.ErrInvalid
	}
	return info, nil
}
