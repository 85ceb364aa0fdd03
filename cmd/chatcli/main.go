package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Interactive terminal client for the chatbot API. Useful for poking at
// the decision tree and the agent escalation flow without the widget.

var baseURL = "http://localhost:3000/api/chatbot"

type chatLine struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type chatOption struct {
	Id   string `json:"id"`
	Text string `json:"text"`
}

type chatReply struct {
	ConversationId      string       `json:"conversation_id"`
	SessionId           string       `json:"session_id"`
	Mode                string       `json:"mode"`
	Messages            []chatLine   `json:"messages"`
	Options             []chatOption `json:"options"`
	FileTransferEnabled bool         `json:"file_transfer_enabled"`
	RegistrationNeeded  bool         `json:"registration_needed"`
}

type envelope struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Data    chatReply `json:"data"`
}

var (
	botColor    = color.New(color.FgCyan)
	agentColor  = color.New(color.FgGreen, color.Bold)
	systemColor = color.New(color.FgYellow)
	optionColor = color.New(color.FgMagenta)
	errColor    = color.New(color.FgRed, color.Bold)
)

func main() {
	if v := os.Getenv("CHATBOT_URL"); v != "" {
		baseURL = v
	}

	reply, err := post("/iniciar", map[string]string{})
	if err != nil {
		errColor.Printf("No se pudo iniciar la conversación: %v\n", err)
		os.Exit(1)
	}
	render(reply)

	conversationId := reply.ConversationId
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/salir" {
			return
		}

		body := map[string]string{"conversation_id": conversationId, "mensaje": text}
		if strings.HasPrefix(text, "#") {
			// "#option-id" selects a button instead of sending free text
			body = map[string]string{"conversation_id": conversationId, "mensaje": "-", "option_id": strings.TrimPrefix(text, "#")}
		}

		reply, err := post("/mensaje", body)
		if err != nil {
			errColor.Printf("Error: %v\n", err)
			continue
		}
		if reply.ConversationId != conversationId {
			systemColor.Println("(conversación expirada, se abrió una nueva)")
			conversationId = reply.ConversationId
		}
		render(reply)
	}
}

func post(path string, body map[string]string) (*chatReply, error) {
	payload, _ := json.Marshal(body)
	resp, err := http.Post(baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

func render(reply *chatReply) {
	for _, m := range reply.Messages {
		switch m.Role {
		case "agent":
			agentColor.Printf("[agente] %s\n", m.Text)
		case "system":
			systemColor.Printf("[sistema] %s\n", m.Text)
		default:
			botColor.Printf("[bot] %s\n", m.Text)
		}
	}
	for _, o := range reply.Options {
		optionColor.Printf("  #%s  %s\n", o.Id, o.Text)
	}
	if reply.Mode == "AGENT" && reply.SessionId != "" {
		systemColor.Printf("(modo agente, sesión %s)\n", reply.SessionId)
	}
}
