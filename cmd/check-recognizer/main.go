// Command check-recognizer sends one media file to the recognition service
// and prints what it sees. Useful for verifying configuration before running
// the server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akazmin/batchlens/internal/recognition"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: check-recognizer <media-file>")
		os.Exit(1)
	}

	recognizerURL := os.Getenv("RECOGNIZER_URL")
	if recognizerURL == "" {
		recognizerURL = "http://localhost:5000"
	}

	mediaPath := os.Args[1]
	payload, err := os.ReadFile(mediaPath)
	if err != nil {
		log.Fatal("Failed to read media file:", err)
	}

	fmt.Println("🔍 Checking Recognition Service")
	fmt.Println("================================")
	fmt.Printf("Service URL: %s\n", recognizerURL)
	fmt.Printf("Media file:  %s (%d bytes)\n\n", mediaPath, len(payload))

	client := recognition.NewClient(recognizerURL)

	if err := client.CheckHealth(); err != nil {
		fmt.Printf("❌ Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Service is healthy")

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := client.Recognize(ctx, payload, filepath.Base(mediaPath))
	if err != nil {
		fmt.Printf("❌ Recognition failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Recognition completed in %v\n\n", time.Since(start).Round(time.Millisecond))

	if resp.SubjectMismatch {
		fmt.Println("⚠️  Service reports the subject is not a collectible")
		return
	}
	if resp.QualityIssue {
		fmt.Println("⚠️  Service reports image quality problems")
		return
	}
	if !resp.Identified || len(resp.Items) == 0 {
		fmt.Println("⚠️  No items identified")
		return
	}

	fmt.Printf("🚗 Identified %d item(s):\n", len(resp.Items))
	for i, item := range resp.Items {
		parts := []string{item.Brand, item.Model}
		if item.Year > 0 {
			parts = append(parts, fmt.Sprintf("(%d)", item.Year))
		}
		fmt.Printf("  %d. %s\n", i+1, strings.Join(parts, " "))
		if item.Series != "" {
			fmt.Printf("     Series: %s\n", item.Series)
		}
		if item.Color != "" {
			fmt.Printf("     Color: %s\n", item.Color)
		}
		if item.Condition != "" {
			fmt.Printf("     Condition: %s\n", item.Condition)
		}
		if item.BoundingBox != nil {
			fmt.Printf("     Region: %dx%d at (%d,%d)\n",
				item.BoundingBox.Width, item.BoundingBox.Height,
				item.BoundingBox.X, item.BoundingBox.Y)
		}
	}
}
