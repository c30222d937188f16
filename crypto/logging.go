package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// previewLen is how many leading bytes of sensitive data may appear in logs.
const previewLen = 8

// SecureFieldHash returns log fields describing sensitive data by size and a
// short prefix only. Public keys are fine to preview; never pass private
// key or shared key bytes.
func SecureFieldHash(data []byte, name string) logrus.Fields {
	preview := "nil"
	if len(data) > 0 {
		n := previewLen
		if len(data) < n {
			n = len(data)
		}
		preview = fmt.Sprintf("%x", data[:n])
		if len(data) > n {
			preview += "..."
		}
	}

	return logrus.Fields{
		name + "_preview": preview,
		name + "_size":    len(data),
	}
}
