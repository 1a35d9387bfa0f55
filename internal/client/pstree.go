package client

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"humed/internal/hume"
)

// maxTreeDepth caps the ancestry walk; anything deeper is container noise.
const maxTreeDepth = 32

// processTree walks /proc from pid up to init, innermost first. Best effort:
// a process that exits mid-walk just truncates the tree.
func processTree(pid int) []hume.ProcessEntry {
	var tree []hume.ProcessEntry
	for order := 0; pid > 0 && order < maxTreeDepth; order++ {
		cmdline, ppid, err := readProc(pid)
		if err != nil {
			break
		}
		tree = append(tree, hume.ProcessEntry{PID: pid, Cmdline: cmdline, Order: order})
		if ppid == 0 {
			break
		}
		pid = ppid
	}
	return tree
}

func readProc(pid int) (cmdline []string, ppid int, err error) {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return nil, 0, err
	}
	for _, arg := range bytes.Split(bytes.TrimRight(raw, "\x00"), []byte{0}) {
		if len(arg) > 0 {
			cmdline = append(cmdline, string(arg))
		}
	}

	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, 0, err
	}
	ppid, err = parseStatPPID(string(stat))
	if err != nil {
		return nil, 0, err
	}
	return cmdline, ppid, nil
}

// parseStatPPID extracts field 4 of /proc/<pid>/stat. The comm field may
// contain spaces and parentheses, so parsing starts after the last ')'.
func parseStatPPID(stat string) (int, error) {
	i := strings.LastIndexByte(stat, ')')
	if i < 0 {
		return 0, fmt.Errorf("client: malformed stat line")
	}
	fields := strings.Fields(stat[i+1:])
	if len(fields) < 2 {
		return 0, fmt.Errorf("client: malformed stat line")
	}
	return strconv.Atoi(fields[1])
}
