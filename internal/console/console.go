// Package console provides an interactive prompt for talking to the robot
// while the viewer runs.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/shaunagostinho/linedash/internal/robot"
	"github.com/shaunagostinho/linedash/internal/telemetry"
)

// Deps are the pieces of the running viewer the console reaches into.
type Deps struct {
	Channel *robot.Channel
	Params  *robot.Store
	State   *telemetry.State
	Buffer  *telemetry.Buffer
	Port    func() string
	Status  func() string

	// Apply merges loaded parameters into the running viewer. Nil merges
	// into Params only.
	Apply func(robot.Parameters) robot.Parameters
}

// Console handles the interactive command loop.
type Console struct {
	deps Deps
	rl   *readline.Instance
}

// New creates a console bound to the terminal.
func New(deps Deps) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "robot> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("console: create readline: %w", err)
	}
	return &Console{deps: deps, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that coordinates with the prompt. Route the log
// package here so log lines do not mangle the input line.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run reads commands until exit, EOF or ctx ends. Exiting the console
// cancels the whole process.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp(c.rl.Stdout())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
		if c.exec(ctx, line, c.rl.Stdout()) {
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
	}
}

// exec runs one input line and reports whether the user asked to quit.
func (c *Console) exec(ctx context.Context, line string, out io.Writer) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp(out)

	case "pid", "motor", "log":
		c.send(out, input)

	case "send":
		if len(args) == 0 {
			fmt.Fprintln(out, "Usage: send <raw command>")
			return false
		}
		c.send(out, strings.Join(args, " "))

	case "start":
		c.send(out, robot.CmdMotorStart)

	case "stop":
		c.send(out, robot.CmdMotorStop)

	case "status", "s":
		c.cmdStatus(out)

	case "params", "p":
		data, _ := json.MarshalIndent(c.deps.Params.Get(), "", "  ")
		fmt.Fprintln(out, string(data))

	case "read":
		if err := c.deps.Channel.ReadAll(ctx); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}

	case "write":
		if err := c.deps.Channel.WriteAll(ctx, c.deps.Params.Get()); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}

	case "load":
		if len(args) != 1 {
			fmt.Fprintln(out, "Usage: load <file.json>")
			return false
		}
		p, err := robot.LoadFile(args[0])
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		if c.deps.Apply != nil {
			c.deps.Apply(p)
		} else {
			c.deps.Params.Update(p)
		}
		fmt.Fprintf(out, "Loaded parameters from %s\n", args[0])

	case "save":
		if len(args) != 1 {
			fmt.Fprintln(out, "Usage: save <file.json>")
			return false
		}
		if err := robot.SaveFile(args[0], c.deps.Params.Get()); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "Saved parameters to %s\n", args[0])

	case "clear":
		c.deps.Buffer.Clear()
		fmt.Fprintln(out, "Plot data cleared")

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) send(out io.Writer, command string) {
	if err := c.deps.Channel.Send(command); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "-> %s\n", command)
}

func (c *Console) cmdStatus(out io.Writer) {
	port := c.deps.Port()
	if port == "" {
		port = "(none)"
	}
	snap := c.deps.State.Snapshot()
	fmt.Fprintf(out, "Port:     %s\n", port)
	fmt.Fprintf(out, "Status:   %s\n", c.deps.Status())
	fmt.Fprintf(out, "Sensors:  %v (max seen %d)\n", snap.SensorValues, snap.MaxValueSeen)
	if snap.LineRaw.Valid {
		fmt.Fprintf(out, "Line:     %d (normalized %.3f)\n", snap.LineRaw.Value, snap.LineNormalized)
	} else {
		fmt.Fprintln(out, "Line:     -")
	}
	fmt.Fprintf(out, "Samples:  %d/%d\n", c.deps.Buffer.Len(), c.deps.Buffer.Capacity())
}

func (c *Console) printHelp(out io.Writer) {
	fmt.Fprintln(out, `
Commands:
  pid <p|i|d> <value|?>     Set or query a PID gain
  motor speed <value|?>     Set or query motor speed
  motor start | motor stop  Start or stop the motors (also: start, stop)
  log <p|i|d|s|l|o> <on|off> Toggle a firmware log stream
  send <raw>                Send any command line
  status, s                 Connection and telemetry summary
  params, p                 Show the parameter set
  read                      Query all parameters from the robot
  write                     Write the parameter set to the robot
  load <file> / save <file> Parameter files (JSON)
  clear                     Clear plot data
  help, ?                   This help
  quit, exit, q             Exit`)
}
