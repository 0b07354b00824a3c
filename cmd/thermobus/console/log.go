package console

import (
	"fmt"
	"io"
	"os"
)

const PictoThermometer = "🌡"
const PictoStop = "🚫"
const PictoFinish = "🏁"
const PictoPin = "📌"
const PictoGhost = "👻"

var writer io.Writer = os.Stdout

func SetOutput(w io.Writer) {
	writer = w
}

func PInfof(picto, msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, "%s %s\n", picto, fmt.Sprintf(msg, args...))
}

func Printf(msg string, args ...interface{}) {
	_, _ = fmt.Fprintf(writer, msg, args...)
}
