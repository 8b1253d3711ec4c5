package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/deemkeen/fedigraph/app"
	"github.com/deemkeen/fedigraph/util"
)

func main() {
	versionFlag := flag.Bool("v", false, "Print version information")
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	if *versionFlag {
		fmt.Println(util.GetNameAndVersion())
		os.Exit(0)
	}

	conf, err := util.ReadConf(*configPath)
	if err != nil {
		log.Fatalln(err)
	}

	util.SetupLogging(conf.WithJournald)

	log.Printf("%s starting", util.GetNameAndVersion())
	log.Println("Configuration: ")
	log.Println(util.PrettyPrint(conf))

	application, err := app.New(conf)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	if err := application.Initialize(); err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := application.Start(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
