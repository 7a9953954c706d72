package directory

import "crypto/rand"

// codeAlphabet is 32 symbols: uppercase letters without I/O and digits without
// 0/1, so codes survive being read aloud or handwritten. 32^6 keeps the
// collision probability negligible, but creation still checks and regenerates.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

func newSessionCode() (string, error) {
	return randomString(codeAlphabet, codeLength)
}

const hostIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

const hostIDLength = 16

func newHostID() (string, error) {
	return randomString(hostIDAlphabet, hostIDLength)
}

// randomString draws length symbols uniformly from alphabet. Bytes at or above
// the largest multiple of len(alphabet) are rejected, so alphabets whose size
// does not divide 256 stay unbiased.
func randomString(alphabet string, length int) (string, error) {
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				return string(out), nil
			}
		}
	}
}
