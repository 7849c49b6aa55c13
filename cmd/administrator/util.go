package administrator

import (
	"fmt"
	"strings"

	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/message"
)

// parseCommand splits an input line of the form "<teams|suppliers|all> <content>".
// Content may be empty.
func parseCommand(line string) (message.Group, string, error) {
	line = strings.TrimSpace(line)
	word, content, _ := strings.Cut(line, " ")

	group, err := message.ParseGroup(word)
	if err != nil {
		return "", "", fmt.Errorf("expected \"<teams|suppliers|all> <message>\", got %q", line)
	}
	return group, strings.TrimSpace(content), nil
}
