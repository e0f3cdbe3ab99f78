package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"slotplan.ai/internal/sim/layout"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(adminURL(*baseURL, "state"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	finish(resp)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	post(adminURL(*baseURL, "snapshot"), nil)
}

func relayoutCmd(args []string) {
	fs := flag.NewFlagSet("relayout", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	count := fs.Int("slots", -1, "slot count (required)")
	reserved := fs.String("reserved", "", "reserved region start:end[:drop] in millimetres from the left edge (optional)")
	_ = fs.Parse(args)

	if *count < 0 {
		fmt.Fprintln(os.Stderr, "missing -slots")
		os.Exit(2)
	}
	body := struct {
		SlotCount int            `json:"slot_count"`
		Reserved  *layout.Region `json:"reserved,omitempty"`
	}{SlotCount: *count}
	if strings.TrimSpace(*reserved) != "" {
		r, err := parseRegion(*reserved)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -reserved:", err)
			os.Exit(2)
		}
		body.Reserved = &r
	}
	b, _ := json.Marshal(body)
	post(adminURL(*baseURL, "relayout"), b)
}

func parseRegion(s string) (layout.Region, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return layout.Region{}, fmt.Errorf("want start:end[:drop], got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return layout.Region{}, err
		}
		v[i] = f
	}
	if v[1] < v[0] {
		return layout.Region{}, fmt.Errorf("end %v before start %v", v[1], v[0])
	}
	return layout.Region{Start: v[0], End: v[1], Drop: v[2]}, nil
}

func adminURL(base, name string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/admin/v1/" + name
}

func post(u string, body []byte) {
	req, _ := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	finish(resp)
}

func finish(resp *http.Response) {
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
