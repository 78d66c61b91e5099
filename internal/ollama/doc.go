// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP transport for communicating with an Ollama server.
//
// This package is the leaf of the chat engine. It knows the wire format and
// nothing about conversations or turns.
//
// # Key Types
//
//   - Client: probes the server root, lists installed models, opens streaming chats
//   - ChatRequest: request body for POST /api/chat
//   - LineDecoder: decode-or-skip reader for the newline-delimited JSON response
//   - Launcher: starts and stops a local `ollama serve` process
//   - ClientError: typed error with sentinels matched through errors.Is
//
// # Usage
//
//	client := ollama.NewClientWithConfig(ollama.DefaultConfig())
//	body, err := client.OpenChatStream(ctx, &ollama.ChatRequest{
//	    Model:    "qwen2.5:7b",
//	    Messages: []ollama.Message{{Role: "user", Content: "Hello"}},
//	    Stream:   true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
//
//	dec := ollama.NewLineDecoder(body, 0)
//	for {
//	    chunk, err := dec.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(chunk.Message.Content)
//	}
package ollama
