package cache

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
)

// DeriveKey combines a model-id fingerprint with the content digest so the
// same content cached under two different models never collides.
func DeriveKey(modelID, content string) string {
	m := md5.Sum([]byte(modelID))
	c := sha256.Sum256([]byte(content))
	return hex.EncodeToString(m[:])[:8] + "_" + hex.EncodeToString(c[:])
}
