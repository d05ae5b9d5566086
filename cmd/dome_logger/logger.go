// Command dome_logger records the domed status stream in InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/w1xm/dome_interface/internal/logging"
)

const measurement = "dome.status"

func main() {
	app := &cli.App{
		Name:  "dome_logger",
		Usage: "log the dome status stream to InfluxDB",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "influx", Value: "http://localhost:9999", EnvVars: []string{"INFLUX_SERVER"}, Usage: "InfluxDB server URL"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"INFLUX_TOKEN"}, Usage: "InfluxDB token"},
			&cli.StringFlag{Name: "org", Value: "w1xm", Usage: "InfluxDB organization"},
			&cli.StringFlag{Name: "bucket", Value: "dome.raw", Usage: "InfluxDB bucket"},
			&cli.StringFlag{Name: "url", Value: "ws://localhost:11111/api/ws", EnvVars: []string{"DOME_ADDRESS"}, Usage: "domed status socket"},
			&cli.BoolFlag{Name: "debug", Usage: "log at debug level"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, err := logging.New("dome_logger", c.Bool("debug"))
	if err != nil {
		return err
	}
	defer logger.Sync()
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := influxdb2.NewClient(c.String("influx"), c.String("token"))
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(c.String("org"), c.String("bucket"))
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			logger.Warnf("write error: %v", err)
		}
	}()
	for {
		if err := logData(ctx, c.String("url"), writeApi, logger); err != nil && ctx.Err() == nil {
			logger.Warnf("reading status: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(1 * time.Second):
		}
	}
}

// flattenStatus turns nested JSON into dotted field names.
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
	default:
		if prefix != "" {
			fields[prefix[1:]] = status
		}
	}
}

func logData(ctx context.Context, url string, writeApi api.WriteApi, logger *zap.SugaredLogger) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	logger.Infof("connected to %s", url)
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields := make(map[string]interface{})
		flattenStatus(fields, status, "")
		// write asynchronously
		writeApi.WritePoint(influxdb2.NewPoint(measurement, nil, fields, time.Now()))
	}
}
