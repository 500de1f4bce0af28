package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bitrise-io/go-multipart-uploader/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"
)

// writeResult writes v as indented JSON to the --output file, or to the app writer.
func writeResult(c *cli.Context, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')

	if path := c.String(outputFlagName); path != "" {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		return nil
	}

	_, err = c.App.Writer.Write(data)
	return err
}

func logStats(logger log.Logger, stats *multipart.Stats, took time.Duration) {
	logger.Debugf("Uploaded %d parts, %s in %s (attempts: %d, retries: %d, avg part time: %s, peak parallel parts: %d)",
		stats.FinishedCount(),
		units.HumanSizeWithPrecision(float64(stats.BytesTransferred()), 3),
		took.Round(time.Millisecond),
		stats.Attempts(),
		stats.Retries(),
		stats.Average().Round(time.Millisecond),
		stats.PeakConcurrentChunks())
}
