// internal/capture/process.go
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// ErrStaleHandle indica que o processo já terminou; quem recebe trata como
// "já limpo".
var ErrStaleHandle = errors.New("process already exited")

// Process é o handle de um programa de captura em execução.
type Process interface {
	PID() int
	// Kill mata o processo à força. Retorna ErrStaleHandle se ele já saiu.
	Kill() error
	// Wait bloqueia até o processo terminar. Deve ser chamado uma única vez.
	Wait() (exitCode int, err error)
	// Output é stdout+stderr combinados; chega a EOF quando o processo sai.
	Output() io.ReadCloser
}

type Spawner interface {
	Spawn(cameraID string, cmd Command) (Process, error)
}

// ExecSpawner roda o comando via os/exec, cada captura no seu próprio
// process group para o kill levar junto eventuais filhos.
type ExecSpawner struct {
	Env []string
}

func (s ExecSpawner) Spawn(cameraID string, c Command) (Process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe for %s: %w", cameraID, err)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}
	// o filho tem sua cópia; fechando a nossa o leitor recebe EOF quando ele sair
	pw.Close()

	return &execProcess{cmd: cmd, output: pr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	output *os.File
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Kill() error {
	pid := p.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrStaleHandle
		}
		return err
	}
	return nil
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// código != 0 ou morto por sinal: não é erro de Wait
		return code, nil
	}
	return code, err
}

func (p *execProcess) Output() io.ReadCloser {
	return p.output
}
