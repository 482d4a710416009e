// Package id provides unique identifier generation for stitch jobs.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Generate creates a new unique job ID.
// Format: stitch-<timestamp>-<random>
// Example: stitch-1756500000-a1b2c3d4
func Generate() string {
	timestamp := time.Now().Unix()
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		// Fallback to timestamp only if crypto/rand fails
		return fmt.Sprintf("stitch-%d", timestamp)
	}
	return fmt.Sprintf("stitch-%d-%s", timestamp, hex.EncodeToString(random))
}
