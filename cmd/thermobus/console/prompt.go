package console

import (
	"strings"

	"github.com/chzyer/readline"
)

const (
	Yes = "y"
	No  = "n"
)

// Prompt asks question on the terminal. The answer is matched against
// constraints; an empty or unknown answer selects the first one.
func Prompt(question string, constraints ...string) (string, error) {
	if len(constraints) == 0 {
		return readLine(question)
	}
	var prompt strings.Builder
	prompt.WriteString(question)
	prompt.WriteString(" [")
	prompt.WriteString(strings.ToUpper(constraints[0]))
	for i := 1; i < len(constraints); i++ {
		prompt.WriteString("/")
		prompt.WriteString(constraints[i])
	}
	prompt.WriteString("]: ")
	response, err := readLine(prompt.String())
	if err != nil {
		return "", err
	}
	return match(response, constraints), nil
}

func match(response string, constraints []string) string {
	normalized := strings.ToLower(strings.TrimSpace(response))
	for _, c := range constraints {
		if normalized == c {
			return normalized
		}
	}
	return constraints[0]
}

func readLine(prompt string) (string, error) {
	rl, err := readline.New(prompt)
	if err != nil {
		return "", err
	}
	defer func() { _ = rl.Close() }()
	return rl.Readline()
}
