package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// callSignature computes a deterministic signature for a tool call
// (name + hash of arguments).
func callSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// appendSignature records a signature, keeping only the most recent
// window entries.
func appendSignature(sigs []string, sig string, window int) []string {
	sigs = append(sigs, sig)
	if window > 0 && len(sigs) > window {
		sigs = sigs[len(sigs)-window:]
	}
	return sigs
}

// detectLoop checks whether the last windowSize signatures follow a
// repeating pattern of length 1, 2, or 3.
func detectLoop(sigs []string, windowSize int) bool {
	if len(sigs) < windowSize {
		return false
	}
	sigs = sigs[len(sigs)-windowSize:]

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}
