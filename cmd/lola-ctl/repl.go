package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/score-lola/lola-ipc/pkg/control"
)

// repl is the interactive command loop, grounded directly on
// cmd/sloty's REPL struct and liner wiring (history file, tab
// completion, Ctrl-C aborts).
type repl struct {
	instance *control.ServiceInstance
	liner    *liner.State
}

func newREPL(instance *control.ServiceInstance) *repl {
	return &repl{instance: instance}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".lola-ctl_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("lola-ctl — %s (%s)", r.instance.InstanceID(), r.instance.AsilLevel())))
	fmt.Println(helpStyle.Render("Type 'help' for available commands."))
	fmt.Println()

	for {
		line, err := r.liner.Prompt("lola-ctl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil
		case "help", "?":
			r.printHelp()
		case "events":
			r.cmdEvents()
		case "status":
			r.cmdStatus(args)
		case "subs":
			r.cmdSubs(args)
		case "txlog":
			r.cmdTxlog(args)
		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *repl) completer(line string) []string {
	commands := []string{"events", "status", "subs", "txlog", "help", "exit", "quit", "q"}

	lower := strings.ToLower(line)

	var completions []string

	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *repl) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  events              List configured event ids and slot counts")
	fmt.Println("  status <event>      Dump per-slot status for an event")
	fmt.Println("  subs <event>        Show subscriber/slot-budget counts for an event")
	fmt.Println("  txlog <event>       Show transaction log set capacity and active count")
	fmt.Println("  help                Show this help")
	fmt.Println("  exit / quit / q     Exit")
}

func (r *repl) cmdEvents() {
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-20s %10s %14s", "EVENT", "SLOTS", "SUBSCRIBERS")))

	for _, ec := range r.instance.Events() {
		fmt.Printf("%-20s %10d %14d\n", ec.EventID(), ec.Data().SlotCount(), ec.Sub().SubscriberCount())
	}
}

func (r *repl) resolveEvent(args []string) *control.EventControl {
	if len(args) < 1 {
		fmt.Println("Usage: <command> <event>")

		return nil
	}

	ec := r.instance.Event(args[0])
	if ec == nil {
		fmt.Printf("Unknown event: %s\n", args[0])

		return nil
	}

	return ec
}

func (r *repl) cmdStatus(args []string) {
	ec := r.resolveEvent(args)
	if ec == nil {
		return
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%6s %12s %10s %10s %10s", "SLOT", "TIMESTAMP", "REFCOUNT", "WRITING", "STATE")))

	for i := range ec.Data().SlotCount() {
		v := ec.Data().Get(i)

		state := "held"

		style := slotStateStyle(v.IsReady(), v.IsFree(), v.Invalid)

		switch {
		case v.Invalid:
			state = "invalid"
		case v.IsFree():
			state = "free"
		case v.IsReady():
			state = "ready"
		}

		line := fmt.Sprintf("%6d %12d %10d %10v %10s", i, v.Timestamp, v.RefCount, v.InWriting, state)
		fmt.Println(style.Render(line))
	}
}

func (r *repl) cmdSubs(args []string) {
	ec := r.resolveEvent(args)
	if ec == nil {
		return
	}

	fmt.Printf("Subscribers:     %d\n", ec.Sub().SubscriberCount())
	fmt.Printf("Subscribed slots: %d\n", ec.Sub().SubscribedSlots())
}

func (r *repl) cmdTxlog(args []string) {
	ec := r.resolveEvent(args)
	if ec == nil {
		return
	}

	set := ec.Data().TransactionLogSet()
	fmt.Printf("Proxy capacity:  %d\n", set.ProxyCapacity())
	fmt.Printf("Active proxies:  %d\n", set.ActiveProxyCount())
}
