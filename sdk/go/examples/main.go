// Command examples sends one message to a running kurashid API and prints the reply.
//
//	KURASHI_API_URL=http://localhost:8080 go run ./sdk/go/examples 朝食 トースト 300kcal
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"Kurashi-Agents/sdk/go/kurashi"
)

func main() {
	baseURL := os.Getenv("KURASHI_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	text := strings.Join(os.Args[1:], " ")
	if text == "" {
		text = "ヘルプ"
	}

	client, err := kurashi.NewClient(baseURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	client.SetAccessToken(os.Getenv("KURASHI_API_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	job, err := client.SendMessage(ctx, kurashi.Message{UserID: "sdk-example", Text: text}, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !job.Done() {
		fmt.Printf("job %s is still %s\n", job.ID, job.Status)
		return
	}
	fmt.Printf("[%s/%s] %s\n", job.Agent, job.Action, job.Reply)
}
