// package main: token monitor service
//
// Usage: tokenmon -c conf.json
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tarancss/tokenmon/exporter"
	"github.com/tarancss/tokenmon/lib/block"
	"github.com/tarancss/tokenmon/lib/config"
	"github.com/tarancss/tokenmon/lib/metrics"
	"github.com/tarancss/tokenmon/lib/msg"
	"github.com/tarancss/tokenmon/lib/msg/amqp"
	"github.com/tarancss/tokenmon/lib/store"
	"github.com/tarancss/tokenmon/lib/store/db"
	"github.com/tarancss/tokenmon/monitor"
)

// stopWait bounds the wait for the running refresh cycle at shutdown.
const stopWait = 30 * time.Second

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json or yaml file")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration: port:%s interval:%ds timeout:%ds chains:%d", conf.Port, conf.Interval, conf.Timeout,
		len(conf.Chains))

	// connect to database
	var dbConn store.DB

	if conf.DBConn != "" {
		log.Printf("Connecting to %s database", conf.DBType)

		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			panic(err)
		}

		defer func() {
			log.Printf("Disconnecting %v database, err:%v", conf.DBType, db.Close(conf.DBType, dbConn))
		}()
	}

	// load all blockchains
	blocks, err := block.Init(conf.Chains)
	if err != nil {
		panic(err)
	}
	defer block.End(blocks)

	log.Print("Blockchain clients loaded")

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case msg.AMQP:
		var r *amqp.Amqp

		if r, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if r, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = r.Setup(nil); err != nil {
			panic(err)
		}

		mb = r

		defer func() {
			log.Printf("Closing messageBroker, err:%v", mb.Close())
		}()
	case "":
	default:
		panic(fmt.Errorf("%s: %w", conf.MbType, msg.ErrNoBroker))
	}

	// create the monitor and the http service
	g := metrics.New()

	m, err := monitor.New(conf, blocks, g, mb, dbConn)
	if err != nil {
		panic(err)
	}

	e := exporter.New(m, g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := m.Run(ctx)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// let the running cycle finish, then stop serving
		m.Stop()

		select {
		case s := <-done:
			log.Printf("Monitor: %s", s)
		case <-time.After(stopWait):
			log.Printf("Monitor did not stop in %s, cancelling", stopWait)
			cancel()
		}

		e.Stop()
	}()

	// serve http requests until stopped
	if err = e.Init(conf.Endpoint, conf.Port); err != nil {
		m.Stop()
		panic(err)
	}

	log.Println("Exporter: shutdown http server")
}
