package fileutils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// invalidChars matches characters that are invalid in filenames across
// Windows, macOS, and Linux, plus control characters.
var invalidChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

var multiSpace = regexp.MustCompile(`\s+`)

// SanitizeName removes characters that are not safe for file or folder
// names, collapses whitespace, and trims trailing dots (Windows rejects
// them). Long names are truncated to stay within filesystem limits.
func SanitizeName(name string) string {
	name = invalidChars.ReplaceAllString(name, "")
	name = multiSpace.ReplaceAllString(name, " ")
	name = strings.Trim(name, " .")

	if len(name) > 200 {
		name = name[:200]
		name = strings.Trim(name, " .")
	}

	return name
}

// PostFolderName derives the canonical on-disk folder name for a post:
// "YYYY-MM-DD - Title". Posts with empty titles fall back to a name built
// from the post ID so the folder is still unique and recognizable.
func PostFolderName(createdAt time.Time, title, postID string) string {
	title = SanitizeName(strings.ReplaceAll(title, ".", ""))
	if title == "" {
		id := postID
		if len(id) > 8 {
			id = id[:8]
		}
		title = fmt.Sprintf("No title (id_%s)", id)
	}
	return fmt.Sprintf("%s - %s", createdAt.Format("2006-01-02"), title)
}
