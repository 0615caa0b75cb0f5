// internal/capture/command.go
package capture

import (
	"fmt"
	"strings"
)

const (
	PlaceholderSource = "{source}"
	PlaceholderOutput = "{output}"
)

// Command é o executável + argumentos já resolvidos para uma câmera.
type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// CommandBuilder monta o comando do programa de captura a partir da URL da
// câmera e do padrão de saída dos segmentos.
type CommandBuilder interface {
	Build(source, outputPattern string) (Command, error)
}

// Template substitui {source} e {output} em cada argumento.
type Template struct {
	Binary string
	Args   []string
}

// DefaultArgs grava o stream sem transcodificar, em segmentos alinhados ao relógio.
func DefaultArgs(segmentSeconds int) []string {
	if segmentSeconds <= 0 {
		segmentSeconds = 300
	}
	return []string{
		"-rtsp_transport", "tcp",
		"-probesize", "10M",
		"-analyzeduration", "10M",
		"-fflags", "+genpts",
		"-use_wallclock_as_timestamps", "1",
		"-avoid_negative_ts", "make_zero",
		"-i", PlaceholderSource,
		"-map", "0:v:0",
		"-c:v", "copy",
		"-movflags", "+frag_keyframe+empty_moov",
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", segmentSeconds),
		"-segment_atclocktime", "1",
		"-reset_timestamps", "1",
		"-strftime", "1",
		PlaceholderOutput,
	}
}

// ParseArgs separa CAPTURE_ARGS por espaços; aspas não são suportadas.
func ParseArgs(raw string) []string {
	return strings.Fields(raw)
}

func (t Template) Build(source, outputPattern string) (Command, error) {
	if strings.TrimSpace(t.Binary) == "" {
		return Command{}, fmt.Errorf("capture binary not configured")
	}
	if len(t.Args) == 0 {
		return Command{}, fmt.Errorf("capture args not configured")
	}

	var hasSource, hasOutput bool
	args := make([]string, 0, len(t.Args))
	for _, a := range t.Args {
		if strings.Contains(a, PlaceholderSource) {
			hasSource = true
		}
		if strings.Contains(a, PlaceholderOutput) {
			hasOutput = true
		}
		a = strings.ReplaceAll(a, PlaceholderSource, source)
		a = strings.ReplaceAll(a, PlaceholderOutput, outputPattern)
		args = append(args, a)
	}
	if !hasSource || !hasOutput {
		return Command{}, fmt.Errorf("capture args must reference %s and %s", PlaceholderSource, PlaceholderOutput)
	}

	return Command{Path: t.Binary, Args: args}, nil
}
