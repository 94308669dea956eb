package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"

	"github.com/mxschwarz/robolink/pkg/busdriver"
	"github.com/mxschwarz/robolink/pkg/transport"
)

// ConsoleCommand opens a raw serial line and lets an operator type
// register commands directly against one controller, playing the
// same bench-debugging role the original passthrough mode played
// against its legacy PC tool.
//
// Commands:
//
//	send <id> <reg> [value]   send #<id><reg><value> and print the reply
//	ping <id>                 shorthand for send <id> ZP
//	quit                      close the console
type ConsoleCommand struct {
	Port string `short:"p" long:"port" required:"true" description:"Serial port to open"`
}

func (cmd *ConsoleCommand) Execute(args []string) error {
	link, err := transport.Open(cmd.Port)
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer link.Close()

	drv := busdriver.New(link, nil)
	fmt.Printf("robolink console on %s. Type 'quit' to exit.\n", cmd.Port)

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := runConsoleLine(drv, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func runConsoleLine(drv *busdriver.Driver, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("tokenize: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	switch tokens[0] {
	case "ping":
		if len(tokens) != 2 {
			return fmt.Errorf("usage: ping <id>")
		}
		id, err := parseID(tokens[1])
		if err != nil {
			return err
		}
		state, err := drv.Ping(id)
		if err != nil {
			return err
		}
		fmt.Printf("state=%d\n", state)

	case "send":
		if len(tokens) < 3 || len(tokens) > 4 {
			return fmt.Errorf("usage: send <id> <reg> [value]")
		}
		id, err := parseID(tokens[1])
		if err != nil {
			return err
		}
		value := ""
		if len(tokens) == 4 {
			value = tokens[3]
		}
		reply, err := drv.Raw(id, tokens[2], value)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", reply)

	default:
		return fmt.Errorf("unknown command %q", tokens[0])
	}
	return nil
}

func parseID(s string) (int, error) {
	var id int
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
