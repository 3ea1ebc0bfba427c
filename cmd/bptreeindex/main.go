// Command bptreeindex is an ad-hoc interactive shell over a bptree
// index and its paired row table. It is a thin external collaborator:
// every command below maps directly onto a public operation of the
// bptree/rowtable packages and carries no invariant-preserving logic of
// its own.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/leeminkan/bptree-index/rowtable"
)

const defaultBlockSize = 60

func main() {
	fmt.Println("--- bptreeindex interactive shell ---")
	fmt.Println("Commands: create <idx> <rows> <fieldLen...> | open <idx> <rows> | insert <key> <field...>")
	fmt.Println("          remove <key> | search <key> | range <low> <high> | close | quit")

	var tbl *rowtable.Table
	defer func() {
		if tbl != nil {
			tbl.Close()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "create":
			tbl = runCreate(tbl, fields[1:])
		case "open":
			tbl = runOpen(tbl, fields[1:])
		case "insert":
			runInsert(tbl, fields[1:])
		case "remove":
			runRemove(tbl, fields[1:])
		case "search":
			runSearch(tbl, fields[1:])
		case "range":
			runRange(tbl, fields[1:])
		case "close":
			if tbl != nil {
				if err := tbl.Close(); err != nil {
					fmt.Println("error:", err)
				}
				tbl = nil
			}
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func runCreate(tbl *rowtable.Table, args []string) *rowtable.Table {
	if len(args) < 2 {
		fmt.Println("usage: create <indexFile> <rowFile> [fieldLen...]")
		return tbl
	}
	lengths := make([]int32, 0, len(args)-2)
	for _, a := range args[2:] {
		n, err := strconv.Atoi(a)
		if err != nil {
			fmt.Println("bad field length:", a)
			return tbl
		}
		lengths = append(lengths, int32(n))
	}

	if tbl != nil {
		tbl.Close()
	}
	newTbl, err := rowtable.Create(args[0], args[1], defaultBlockSize, lengths)
	if err != nil {
		fmt.Println("error:", err)
		return nil
	}
	fmt.Println("created")
	return newTbl
}

func runOpen(tbl *rowtable.Table, args []string) *rowtable.Table {
	if len(args) != 2 {
		fmt.Println("usage: open <indexFile> <rowFile>")
		return tbl
	}
	if tbl != nil {
		tbl.Close()
	}
	newTbl, err := rowtable.Open(args[0], args[1])
	if err != nil {
		fmt.Println("error:", err)
		return nil
	}
	fmt.Println("opened")
	return newTbl
}

func runInsert(tbl *rowtable.Table, args []string) {
	if tbl == nil {
		fmt.Println("no table open")
		return
	}
	if len(args) < 1 {
		fmt.Println("usage: insert <key> <field...>")
		return
	}
	key, err := parseKey(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	ok, err := tbl.Insert(key, args[1:])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if !ok {
		fmt.Println("duplicate key, not inserted")
		return
	}
	fmt.Println("ok")
}

func runRemove(tbl *rowtable.Table, args []string) {
	if tbl == nil {
		fmt.Println("no table open")
		return
	}
	if len(args) != 1 {
		fmt.Println("usage: remove <key>")
		return
	}
	key, err := parseKey(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	ok, err := tbl.Remove(key)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(ok)
}

func runSearch(tbl *rowtable.Table, args []string) {
	if tbl == nil {
		fmt.Println("no table open")
		return
	}
	if len(args) != 1 {
		fmt.Println("usage: search <key>")
		return
	}
	key, err := parseKey(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fieldsFound, found, err := tbl.Search(key)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if !found {
		fmt.Println("not found")
		return
	}
	fmt.Println(strings.Join(fieldsFound, ", "))
}

func runRange(tbl *rowtable.Table, args []string) {
	if tbl == nil {
		fmt.Println("no table open")
		return
	}
	if len(args) != 2 {
		fmt.Println("usage: range <low> <high>")
		return
	}
	low, err := parseKey(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	high, err := parseKey(args[1])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	rows, err := tbl.RangeSearch(low, high)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, row := range rows {
		fmt.Println(strings.Join(row, ", "))
	}
}

func parseKey(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad key %q: %w", s, err)
	}
	return int32(n), nil
}
