package index

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"

	"healthq/internal/model"
)

// Signature identifies a document batch by the names and bytes of its
// documents, in input order. params lets callers fold build settings such as
// chunk size or embedder name into the key. URL refs contribute their URL
// only.
func Signature(refs []model.DocumentRef, params ...string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init hash failed: %w", err)
	}
	write := func(b []byte) {
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(b)))
		h.Write(size[:])
		h.Write(b)
	}

	for _, p := range params {
		write([]byte(p))
	}
	for _, ref := range refs {
		write([]byte(ref.DisplayName()))
		switch {
		case ref.Content != nil:
			write(ref.Content)
		case ref.Path != "":
			data, err := os.ReadFile(ref.Path)
			if err != nil {
				return "", fmt.Errorf("%w: read %s failed: %w", model.ErrDocumentParse, ref.Path, err)
			}
			write(data)
		default:
			write([]byte(ref.URL))
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
