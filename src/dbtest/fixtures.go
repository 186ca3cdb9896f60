package dbtest

import (
	"math/rand"
	"strings"

	lorem "github.com/HandmadeNetwork/golorem"
)

// A plausible-looking name, capitalized. Not unique.
func RandomName() string {
	words := strings.Fields(lorem.Sentence(2, 3))
	for i, w := range words {
		w = strings.Trim(w, ".,")
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func RandomBio() string {
	return strings.TrimSpace(lorem.Paragraph(1, 2))
}

func RandomBool() bool {
	return rand.Intn(2) == 1
}
