package main

import (
	"flag"
	"log"

	"github.com/PatchLens/tracepoint-inject/inject"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	reportJsonFile := flag.String("json", "tpreport.json", "File the run details were written to")
	reportChartsFile := flag.String("charts", "tpreport.png", "File to output the run overview chart image")
	flag.Parse()

	metrics, err := inject.ReadReportMetrics(*reportJsonFile)
	if err != nil {
		log.Fatalf("%sFailed to load tpreport: %v", inject.ErrorLogPrefix, err)
	}
	if err := metrics.WriteCharts(*reportChartsFile); err != nil {
		log.Fatalf("%sFailed to write chart file: %v", inject.ErrorLogPrefix, err)
	}
	log.Println(metrics.String())
	log.Println("Report file wrote: " + *reportChartsFile)
}
