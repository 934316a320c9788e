package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactClip  ArtifactKind = "video"
)

func (k ArtifactKind) Extension() string {
	switch k {
	case ArtifactImage:
		return ".jpg"
	case ArtifactClip:
		return ".mp4"
	default:
		return ".bin"
	}
}

// ArtifactKey derives the storage key for the seq-th artifact of a folder.
// The same arguments always yield the same key, so re-running a folder
// overwrites its earlier uploads instead of adding new objects.
func ArtifactKey(kind ArtifactKind, folderID string, seq int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_%d", kind, folderID, seq)))
	return hex.EncodeToString(sum[:]) + kind.Extension()
}
