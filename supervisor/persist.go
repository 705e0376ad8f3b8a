package supervisor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wine-bar/log-capturing-runner/internal/constants"
)

// persistStatus writes the target's decimal exit status to
// status.txt, overwriting any prior contents.
func persistStatus(outDir string, status int) error {
	path := filepath.Join(outDir, constants.StatusFileName)
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", status)), 0o644)
}

// persistStream writes one capture file's current head/gap-marker/tail
// composition, overwriting any prior contents. This is "atomic" only
// in the sense the original program means it: a single overwriting
// write per flush, not a rename-based atomic replace.
func persistStream(outDir string, stream *StdioStream) error {
	path := filepath.Join(outDir, stream.FileName)

	head, tail, discarded := stream.Buffer.View()

	buf := make([]byte, 0, len(head)+len(constants.CutMarker)+tailLen(tail))
	buf = append(buf, head...)
	if discarded > 0 {
		buf = append(buf, constants.CutMarker...)
	}
	for _, chunk := range tail {
		buf = append(buf, chunk...)
	}

	return os.WriteFile(path, buf, 0o644)
}

func tailLen(chunks [][]byte) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return n
}
