// dhtctl is a small CLI/REPL for inspecting and exercising dht table files.
//
// Usage:
//
//	dhtctl <table-file>              Open an existing table (read-write)
//	dhtctl new [opts] <table-file>   Create a new table
//
// Options for 'new':
//
//	-k, --key-maxlen       Maximum key length in bytes (default: prompts)
//	-d, --object-datalen   Fixed data payload length in bytes (default: prompts)
//	-c, --config           JSONC config file supplying defaults for the above
//
// Commands (in REPL):
//
//	put <key> <hex-data>   Insert or update an entry
//	get <key>              Look up an entry, print its data as hex
//	del <key>              Delete an entry
//	at <ordinal>           Indexed lookup by ordinal
//	info                   Show table counters
//	export <path>          Write every live (key, data) pair to a JSON file
//	help                   Show this help
//	exit / quit / q        Exit
package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/dht/pkg/dht"
	"github.com/calvinalkan/dht/pkg/fs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()

		return errors.New("missing command or table file path")
	}

	if os.Args[1] == "new" {
		return runNew(os.Args[2:])
	}

	return runOpen(os.Args[1:])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  dhtctl <table-file>              Open an existing table\n")
	fmt.Fprintf(os.Stderr, "  dhtctl new [opts] <table-file>   Create a new table\n")
	fmt.Fprintf(os.Stderr, "\nRun 'dhtctl new --help' for options when creating a new table.\n")
}

func runNew(args []string) error {
	flagSet := flag.NewFlagSet("new", flag.ExitOnError)

	keyMaxLen := flagSet.Uint64P("key-maxlen", "k", 0, "maximum key length in bytes")
	objectDataLen := flagSet.Uint64P("object-datalen", "d", 0, "fixed data payload length in bytes")
	configPath := flagSet.StringP("config", "c", "", "JSONC file supplying defaults for the above")

	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dhtctl new [options] <table-file>\n\n")
		fmt.Fprintf(os.Stderr, "Create a new table file. Unset options are prompted for.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if flagSet.NArg() < 1 {
		flagSet.Usage()

		return errors.New("missing table file path")
	}

	tablePath := flagSet.Arg(0)

	if _, err := os.Stat(tablePath); err == nil {
		return fmt.Errorf("table file already exists: %s (use 'dhtctl %s' to open it)", tablePath, tablePath)
	}

	if *configPath != "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}

		if *keyMaxLen == 0 {
			*keyMaxLen = cfg.KeyMaxLen
		}

		if *objectDataLen == 0 {
			*objectDataLen = cfg.ObjectDataLen
		}
	}

	reader := bufio.NewReader(os.Stdin)

	if *keyMaxLen == 0 {
		*keyMaxLen = uint64(promptInt(reader, "Key maxlen in bytes", 32))
	}

	if *objectDataLen == 0 {
		*objectDataLen = uint64(promptInt(reader, "Object data length in bytes", 8))
	}

	fmt.Printf("\nCreating table with:\n")
	fmt.Printf("  Path:            %s\n", tablePath)
	fmt.Printf("  Key maxlen:      %d bytes\n", *keyMaxLen)
	fmt.Printf("  Object datalen:  %d bytes\n", *objectDataLen)
	fmt.Println()

	tbl, err := dht.Open(dht.Options{
		Path:          tablePath,
		KeyMaxLen:     *keyMaxLen,
		ObjectDataLen: *objectDataLen,
	}, dht.ReadWrite)
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}
	defer tbl.Free()

	repl := &REPL{tbl: tbl, path: tablePath}

	return repl.Run()
}

func runOpen(args []string) error {
	flagSet := flag.NewFlagSet("open", flag.ExitOnError)
	readOnly := flagSet.BoolP("read-only", "r", false, "open the table read-only")

	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dhtctl [-r] <table-file>\n\nOpen an existing table file.\n")
	}

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if flagSet.NArg() < 1 {
		flagSet.Usage()

		return errors.New("missing table file path")
	}

	tablePath := flagSet.Arg(0)

	if _, err := os.Stat(tablePath); os.IsNotExist(err) {
		return fmt.Errorf("table file does not exist: %s (use 'dhtctl new %s' to create it)", tablePath, tablePath)
	}

	mode := dht.ReadWrite
	if *readOnly {
		mode = dht.ReadOnly
	}

	tbl, err := dht.Open(dht.Options{Path: tablePath}, mode)
	if err != nil {
		return fmt.Errorf("opening table: %w", err)
	}
	defer tbl.Free()

	repl := &REPL{tbl: tbl, path: tablePath}

	return repl.Run()
}

func promptInt(reader *bufio.Reader, prompt string, defaultVal int) int {
	fmt.Printf("%s [%d]: ", prompt, defaultVal)

	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)

	if line == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(line)
	if err != nil {
		return defaultVal
	}

	return val
}

// REPL runs an interactive loop against an open table.
type REPL struct {
	tbl   *dht.Table
	path  string
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".dhtctl_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("dhtctl - %s (size=%d capacity=%d)\n", r.path, r.tbl.Size(), r.tbl.Capacity())
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("dhtctl> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				return nil
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

		case "put":
			r.cmdPut(args)

		case "get":
			r.cmdGet(args)

		case "del", "delete":
			r.cmdDelete(args)

		case "at":
			r.cmdAt(args)

		case "info":
			r.cmdInfo()

		case "export":
			r.cmdExport(args)

		default:
			fmt.Printf("unknown command: %s (type 'help')\n", cmd)
		}
	}
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) printHelp() {
	fmt.Print(`Commands:
  put <key> <hex-data>   Insert or update an entry
  get <key>               Look up an entry, print its data as hex
  del <key>                Delete an entry
  at <ordinal>             Indexed lookup by ordinal
  info                     Show table counters
  export <path>            Write every live (key, data) pair to a JSON file
  help                     Show this help
  exit / quit / q          Exit
`)
}

func (r *REPL) cmdPut(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: put <key> <hex-data>")

		return
	}

	data, err := hex.DecodeString(args[1])
	if err != nil {
		fmt.Printf("invalid hex data: %v\n", err)

		return
	}

	inserted, err := r.tbl.Insert([]byte(args[0]), data)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if inserted {
		fmt.Println("inserted")

		return
	}

	updated, err := r.tbl.Update([]byte(args[0]), data)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if updated {
		fmt.Println("updated")
	}
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: get <key>")

		return
	}

	data, found, err := r.tbl.Lookup([]byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if !found {
		fmt.Println("(not found)")

		return
	}

	fmt.Println(hex.EncodeToString(data))
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: del <key>")

		return
	}

	deleted, err := r.tbl.Delete([]byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if deleted {
		fmt.Println("deleted")
	} else {
		fmt.Println("(not found)")
	}
}

func (r *REPL) cmdAt(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: at <ordinal>")

		return
	}

	ord, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid ordinal: %v\n", err)

		return
	}

	key, data, err := r.tbl.IndexedLookup(ord)
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Printf("%s => %s\n", key, hex.EncodeToString(data))
}

func (r *REPL) cmdInfo() {
	fmt.Printf("size:        %d\n", r.tbl.Size())
	fmt.Printf("capacity:    %d\n", r.tbl.Capacity())
	fmt.Printf("slots_used:  %d\n", r.tbl.SlotsUsed())
	fmt.Printf("dirty_slots: %d\n", r.tbl.DirtySlots())
}

// exportEntry is one (key, data) pair in an export file.
type exportEntry struct {
	Key  string `json:"key"`
	Data string `json:"data_hex"`
}

// cmdExport walks every live ordinal via IndexedLookup and writes the
// result as a JSON array, atomically, via the package's AtomicWriter so a
// crash mid-export never leaves a truncated file at the destination path.
func (r *REPL) cmdExport(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: export <path>")

		return
	}

	entries := []exportEntry{}

	for ord := uint64(0); ord < r.tbl.SlotsUsed(); ord++ {
		key, data, err := r.tbl.IndexedLookup(ord)
		if err != nil {
			continue // vacant ordinal, retired by a delete
		}

		entries = append(entries, exportEntry{Key: string(key), Data: hex.EncodeToString(data)})
	}

	encoded, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	writer := fs.NewAtomicWriter(fs.NewReal())

	if err := writer.Write(args[0], strings.NewReader(string(encoded)), fs.AtomicWriteOptions{SyncDir: true, Perm: 0o644}); err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Printf("exported %d entries to %s\n", len(entries), args[0])
}
