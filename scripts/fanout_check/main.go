package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type     string          `json:"type"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type stream struct {
	Base     string
	Frames   [][]byte
	Duration time.Duration
	Error    error
}

type comparison struct {
	Index   int
	Match   bool
	Missing string
}

func main() {
	var (
		baseA    string
		baseB    string
		topic    string
		token    string
		listen   time.Duration
		dialWait time.Duration
	)

	flag.StringVar(&baseA, "a", "ws://localhost:8080/api/v1", "First API instance base URL")
	flag.StringVar(&baseB, "b", "ws://localhost:8081/api/v1", "Second API instance base URL")
	flag.StringVar(&topic, "path", "", "Stream path, e.g. /queues/providers/<id>/ws")
	flag.StringVar(&token, "token", os.Getenv("QUEUE_TOKEN"), "Bearer token passed as access_token")
	flag.DurationVar(&listen, "listen", 30*time.Second, "How long to collect snapshots")
	flag.DurationVar(&dialWait, "dial-timeout", 5*time.Second, "WebSocket handshake timeout")
	flag.Parse()

	if strings.TrimSpace(topic) == "" {
		log.Fatalf("-path is required")
	}

	dialer := &websocket.Dialer{HandshakeTimeout: dialWait}
	streams := []*stream{{Base: baseA}, {Base: baseB}}

	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s *stream) {
			defer wg.Done()
			collect(dialer, s, topic, token, listen)
		}(s)
	}
	wg.Wait()

	results := compareStreams(streams[0], streams[1])
	printReport(streams, results)

	mismatches := 0
	for _, res := range results {
		if !res.Match {
			mismatches++
		}
	}
	fmt.Printf("Frames compared: %d, Mismatches: %d\n", len(results), mismatches)
	if mismatches > 0 || streams[0].Error != nil || streams[1].Error != nil {
		os.Exit(1)
	}
}

func streamURL(base, path, token string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", err
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func collect(dialer *websocket.Dialer, s *stream, path, token string, listen time.Duration) {
	target, err := streamURL(s.Base, path, token)
	if err != nil {
		s.Error = fmt.Errorf("build url: %w", err)
		return
	}

	start := time.Now()
	conn, resp, err := dialer.Dial(target, http.Header{})
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		s.Error = fmt.Errorf("dial: %w", err)
		return
	}
	defer conn.Close()

	deadline := start.Add(listen)
	_ = conn.SetReadDeadline(deadline)
	for {
		var msg frame
		if err := conn.ReadJSON(&msg); err != nil {
			if time.Now().Before(deadline) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Error = fmt.Errorf("read: %w", err)
			}
			break
		}
		s.Frames = append(s.Frames, msg.Snapshot)
	}
	s.Duration = time.Since(start)
}

// compareStreams aligns frames by index. The first frame is the per-connection initial snapshot
// and is built independently by each instance, so it is skipped.
func compareStreams(a, b *stream) []comparison {
	framesA := tail(a.Frames)
	framesB := tail(b.Frames)
	n := len(framesA)
	if len(framesB) > n {
		n = len(framesB)
	}
	results := make([]comparison, 0, n)
	for i := 0; i < n; i++ {
		res := comparison{Index: i + 1}
		switch {
		case i >= len(framesA):
			res.Missing = a.Base
		case i >= len(framesB):
			res.Missing = b.Base
		default:
			res.Match = snapshotsEqual(framesA[i], framesB[i])
		}
		results = append(results, res)
	}
	return results
}

func tail(frames [][]byte) [][]byte {
	if len(frames) <= 1 {
		return nil
	}
	return frames[1:]
}

func snapshotsEqual(a, b []byte) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}

	var aj, bj interface{}
	if err := json.Unmarshal(a, &aj); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bj); err != nil {
		return false
	}
	normalize(&aj)
	normalize(&bj)
	return reflect.DeepEqual(aj, bj)
}

func normalize(v *interface{}) {
	switch val := (*v).(type) {
	case map[string]interface{}:
		for k, v2 := range val {
			normalize(&v2)
			val[k] = v2
		}
	case []interface{}:
		for i, v2 := range val {
			normalize(&v2)
			val[i] = v2
		}
	case float64:
		if val == float64(int64(val)) {
			*v = int64(val)
		}
	}
}

func printReport(streams []*stream, results []comparison) {
	fmt.Println("Snapshot Fan-out Report")
	fmt.Println("=======================")
	for _, s := range streams {
		fmt.Printf("%s: %d frames (%s)\n", s.Base, len(s.Frames), s.Duration)
		if s.Error != nil {
			fmt.Printf("  Error: %v\n", s.Error)
		}
	}
	for _, res := range results {
		status := "OK"
		switch {
		case res.Missing != "":
			status = "MISSING"
		case !res.Match:
			status = "DIFF"
		}
		fmt.Printf("[%s] frame %d", status, res.Index)
		if res.Missing != "" {
			fmt.Printf(" (not received by %s)", res.Missing)
		}
		fmt.Println()
	}
}
