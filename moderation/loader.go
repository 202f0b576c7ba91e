package moderation

import (
	"bufio"
	"chat-relay/errors"
	"embed"
	"io/fs"
	"strings"

	"github.com/samber/lo"
)

//go:embed censored/*.txt
var censoredFolder embed.FS

// LoadCensoredWords reads the embedded word lists (one word per line,
// one file per language) and returns the deduplicated set.
func LoadCensoredWords() ([]string, error) {
	var words []string
	err := fs.WalkDir(censoredFolder, "censored", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		file, err := censoredFolder.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			word := strings.TrimSpace(scanner.Text())
			if word == "" || strings.HasPrefix(word, "#") {
				continue
			}
			words = append(words, strings.ToLower(word))
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, err
	}

	words = lo.Uniq(words)
	if len(words) == 0 {
		return nil, errors.ErrEmptyWordList
	}
	return words, nil
}
