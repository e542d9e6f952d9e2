// monitor prints executed wheel commands streamed by a wheels-driver node.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
)

func main() {
	os.Exit(run())
}

func run() int {
	url := flag.String("url", "ws://localhost:8080/ws/executed", "Executed-command websocket URL")
	format := flag.String("format", protocol.CodecJSON, "Stream encoding: json or cbor")
	asJSON := flag.Bool("json", false, "Print raw JSON lines instead of a table")
	flag.Parse()

	codec, err := protocol.NewCodec(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	target := *url
	if codec.Name() == protocol.CodecCBOR {
		target += "?format=cbor"
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Connect %s: %v\n", target, err)
		return 1
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	fmt.Printf("📡 Connected to %s\n", target)
	if !*asJSON {
		fmt.Printf("%-8s %-12s %8s %8s %10s\n", "SEQ", "FRAME", "V", "OMEGA", "LATENCY")
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "❌ Stream closed: %v\n", err)
				return 1
			}
			return 0
		}

		var exec protocol.ExecutedCommand
		if err := codec.Unmarshal(data, &exec); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Bad message: %v\n", err)
			continue
		}

		if *asJSON {
			line, _ := json.Marshal(exec)
			fmt.Println(string(line))
			continue
		}
		marker := ""
		if exec.IsZero() {
			marker = "  ⏹"
		}
		fmt.Printf("%-8d %-12s %8.3f %8.3f %10s%s\n",
			exec.Header.Seq, exec.Header.FrameID, exec.V, exec.Omega, exec.Latency(), marker)
	}
}
