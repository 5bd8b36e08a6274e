package mcp

import (
	"context"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teloslabs/telos/pkg/tools"
)

func TestClient_StreamableHTTP_ListTools(t *testing.T) {
	server := mcpserver.NewMCPServer("test-http", "1.0.0")
	server.AddTool(mcpgo.NewTool("ping"), func(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return &mcpgo.CallToolResult{
			Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "ok"}},
		}, nil
	})

	httpServer := mcpserver.NewTestStreamableHTTPServer(server)
	defer httpServer.Close()

	client, err := NewClientWithStreamableHTTPProtocol(httpServer.URL, mcpgo.LATEST_PROTOCOL_VERSION)
	if err != nil {
		t.Fatalf("NewClientWithStreamableHTTPProtocol error: %v", err)
	}
	defer client.Close()

	discovered, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(discovered) == 0 || discovered[0].Name != "ping" {
		t.Fatalf("Expected tool 'ping', got %+v", discovered)
	}
}

func TestClient_StreamableHTTP_RegisterTools(t *testing.T) {
	server := mcpserver.NewMCPServer("test-http", "1.0.0")
	server.AddTool(mcpgo.NewTool("greet"), func(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return &mcpgo.CallToolResult{
			Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "hello"}},
		}, nil
	})

	httpServer := mcpserver.NewTestStreamableHTTPServer(server)
	defer httpServer.Close()

	client, err := NewClientWithStreamableHTTP(httpServer.URL)
	if err != nil {
		t.Fatalf("NewClientWithStreamableHTTP error: %v", err)
	}
	defer client.Close()

	registry := tools.NewRegistry()
	names, err := RegisterTools(context.Background(), registry, client)
	if err != nil {
		t.Fatalf("RegisterTools error: %v", err)
	}
	if len(names) != 1 || names[0] != "greet" {
		t.Fatalf("Expected [greet], got %v", names)
	}

	def, ok := registry.Lookup("greet")
	if !ok {
		t.Fatal("expected greet registered")
	}
	output, err := def.Handler(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Handler error: %v", err)
	}
	if output != "hello" {
		t.Fatalf("Expected 'hello', got %v", output)
	}
}
