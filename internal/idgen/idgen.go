// Package idgen generates short, URL-safe ids backed by nanoid.
// Artifact object keys carry one so a resubmission never overwrites the
// previous object in place.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for generated ids.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of characters generated.
var Length = 8

// Generate returns a new random id.
func Generate() (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return id, nil
}
