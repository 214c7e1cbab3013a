package voice

import (
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/veebot/veebot/pkg/securerandom"
)

// Encryption modes in preference order. The normal mode derives the
// nonce from the RTP header; the suffix mode appends 24 random bytes
// to every packet.
const (
	modeNormal = "xsalsa20_poly1305"
	modeSuffix = "xsalsa20_poly1305_suffix"
)

var supportedModes = []string{modeNormal, modeSuffix}

// rtpHeaderSize is the fixed RTP header length Discord voice uses
const rtpHeaderSize = 12

// encryptFrame seals an opus frame and returns the complete media
// packet: RTP header, ciphertext and, for the suffix mode, the nonce
func encryptFrame(mode string, key *[32]byte, header, opus []byte) ([]byte, error) {
	var nonce [24]byte

	switch mode {
	case modeNormal:
		copy(nonce[:], header)
		packet := make([]byte, 0, len(header)+len(opus)+secretbox.Overhead)
		packet = append(packet, header...)
		return secretbox.Seal(packet, opus, &nonce, key), nil

	case modeSuffix:
		random, err := securerandom.Bytes(24)
		if err != nil {
			return nil, fmt.Errorf("failed to generate packet nonce: %w", err)
		}
		copy(nonce[:], random)
		packet := make([]byte, 0, len(header)+len(opus)+secretbox.Overhead+24)
		packet = append(packet, header...)
		packet = secretbox.Seal(packet, opus, &nonce, key)
		return append(packet, nonce[:]...), nil

	default:
		return nil, fmt.Errorf("unsupported encryption mode %q", mode)
	}
}
