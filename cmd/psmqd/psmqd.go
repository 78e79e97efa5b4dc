package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RoanBrand/psmq"
	"github.com/RoanBrand/psmq/internal/store"
	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
)

type program struct {
	server     psmq.Server
	configFlag string
	execDir    string
	overrides  func(*psmq.Server)

	done   chan struct{} // closed when Run returned
	runErr error
}

func (p *program) loadConfig() error {
	if p.configFlag != "" {
		if err := p.server.LoadFromFile(p.configFlag); err != nil {
			return err
		}
		log.Infoln("Using config file:", p.configFlag)
	} else {
		toTry := filepath.Join(p.execDir, "config.json")
		if fileExists(toTry) {
			if err := p.server.LoadFromFile(toTry); err != nil {
				return err
			}
			log.Infoln("Using config file:", toTry)
		} else {
			log.Infoln("No config file specified or found. Using defaults.")
		}
	}

	p.overrides(&p.server)
	return nil
}

func (p *program) Start(s service.Service) error {
	if err := p.loadConfig(); err != nil {
		return err
	}

	p.done = make(chan struct{})
	go func() {
		p.runErr = p.server.Run()
		close(p.done)
		if p.runErr != nil {
			log.Fatal(p.runErr)
		}
	}()
	return nil
}

// Stop may be called more than once.
func (p *program) Stop(s service.Service) error {
	p.server.Shutdown()
	if p.done == nil {
		return nil
	}
	<-p.done
	return p.runErr
}

func main() {
	svcFlag := flag.String("service", "", "Control the system service.")
	cnfFlag := flag.String("c", "", "Path of config file.")
	nameFlag := flag.String("b", "", "Name of the broker control channel.")
	maxMsgFlag := flag.Int("m", 0, "Max number of requests queued on the control channel.")
	removeFlag := flag.Bool("r", false, "Remove a control channel left behind by a previous run.")
	levelFlag := flag.String("l", "", "Log level.")
	logFileFlag := flag.String("p", "", "Path of log file.")
	colorsFlag := flag.Bool("colors", false, "Force colored log output.")
	statsFlag := flag.Bool("stats", false, "Print stored statistics and exit.")
	flag.Parse()

	ePath, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}
	eDir, _ := filepath.Split(ePath)

	// Set defaults before config override.
	if service.Interactive() {
		log.SetLevel(log.DebugLevel)
	} else {
		f, err := os.OpenFile(filepath.Join(eDir, "psmqd.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		log.SetOutput(f)
	}

	prg := program{configFlag: *cnfFlag, execDir: eDir}
	prg.overrides = func(s *psmq.Server) {
		if *nameFlag != "" {
			s.Broker.Name = *nameFlag
		}
		if *maxMsgFlag != 0 {
			s.Broker.MaxMsg = *maxMsgFlag
		}
		if *removeFlag {
			s.Broker.RemoveQueue = true
		}
		if *levelFlag != "" {
			s.Log.Level = *levelFlag
		}
		if *logFileFlag != "" {
			s.Log.File = *logFileFlag
		}
		if *colorsFlag {
			s.Log.Colors = true
		}
	}

	if *statsFlag {
		if err := prg.loadConfig(); err != nil {
			log.Fatal(err)
		}
		if err := printStats(prg.server.Stats.Dir); err != nil {
			log.Fatal(err)
		}
		return
	}

	svcConfig := service.Config{
		Name:        "psmqd",
		DisplayName: "psmq broker",
		Description: "psmq publish/subscribe broker over local message queues.",
	}

	s, err := service.New(&prg, &svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	if len(*svcFlag) != 0 {
		err := service.Control(s, *svcFlag)
		if err != nil {
			log.Printf("Valid actions: %q\n", service.ControlAction)
			log.Fatal(err)
		}
		return
	}

	err = s.Run()
	if err != nil {
		log.Fatal(err)
	}
}

func printStats(dir string) error {
	if dir == "" {
		return errors.New("stats are disabled: no stats dir configured")
	}

	st, err := store.OpenStats(dir, false)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.Each("", func(name string, v uint64) {
		fmt.Printf("%-40s %d\n", name, v)
	})
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
