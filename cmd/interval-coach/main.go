package main

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/jonbondani/interval-pro-sub001/internal/audio"
	"github.com/jonbondani/interval-pro-sub001/internal/ble"
	"github.com/jonbondani/interval-pro-sub001/internal/coach"
	"github.com/jonbondani/interval-pro-sub001/internal/config"
	"github.com/jonbondani/interval-pro-sub001/internal/go_func_utils"
	"github.com/jonbondani/interval-pro-sub001/internal/storage"
)

var adapter = bluetooth.DefaultAdapter

// logChanWriter mirrors log lines into a channel for the UI tail. Sends are
// non-blocking; a slow UI drops lines rather than stalling the logger.
type logChanWriter struct {
	ch chan string
}

func (w *logChanWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		select {
		case w.ch <- line:
		default:
		}
	}
	return len(p), nil
}

func main() {
	simulate := pflag.Bool("simulate", false, "run with a built-in simulated telemetry source")
	planName := pflag.String("plan", coach.DefaultPlans[0].Name, "training plan to load")
	device := pflag.String("device", "", "peripheral address to connect to, overriding the stored preference")
	pflag.String("data-dir", "", "directory for the database, logs, and preferences")
	pflag.Parse()

	cfg, err := config.Load(pflag.CommandLine)
	must("load configuration", err)
	if dir, _ := pflag.CommandLine.GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
		cfg.LogFile = filepath.Join(dir, "interval-coach.log")
	}

	logTail := &logChanWriter{ch: make(chan string, 256)}
	rotating := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	logger := log.New(io.MultiWriter(rotating, logTail), "", log.LstdFlags)
	logger.Printf("interval-coach starting (simulate=%v, plan=%q)", *simulate, *planName)

	if _, ok := coach.GetPlanByName(*planName); !ok {
		names := make([]string, 0, len(coach.DefaultPlans))
		for _, p := range coach.DefaultPlans {
			names = append(names, p.Name)
		}
		must("select plan", fmt.Errorf("unknown plan %q, available: %s", *planName, strings.Join(names, ", ")))
	}

	store, err := storage.Open(filepath.Join(cfg.DataDir, "sessions.db"), logger)
	must("open session store", err)
	defer store.Close()

	radio := ble.NewBluetoothRadio(adapter, logger)
	manager := ble.NewManager(radio, cfg.BLE, logger)
	defer manager.Shutdown()

	prefs := ble.NewPreferences(cfg.DataDir, logger)
	sink := audio.NewSink(logger)

	model := coach.NewCoachModel(cfg, manager, coach.NoopMotionSensor{}, coach.NoopHealthRecorder{},
		store, sink, sink, logger, logTail.ch)
	defer model.Shutdown()

	var sim *coach.Simulator
	if *simulate {
		sim = coach.NewSimulator(model.Fusion(), model.Timer(), logger)
		defer sim.Stop()
	} else {
		must("enable BLE stack", manager.Enable())
		target := *device
		if target == "" {
			target, _ = prefs.PreferredDevice()
		}
		if target != "" {
			manager.FindBondedDevice(target)
		} else {
			manager.StartScan()
		}
	}

	runDashboard(model, manager, prefs, sim, *planName, *simulate, logger)
}

// runDashboard builds the two-pane terminal UI: live metrics on the left,
// log tail on the right.
func runDashboard(model *coach.CoachModel, manager ble.ManagerInterface, prefs *ble.Preferences,
	sim *coach.Simulator, planName string, simulate bool, logger *log.Logger) {

	app := tview.NewApplication()

	metricsView := tview.NewTextView().SetDynamicColors(true)
	metricsView.SetBorder(true).SetTitle(" Session ")

	logView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(500)
	logView.SetBorder(true).SetTitle(" Log ")

	flex := tview.NewFlex().
		AddItem(metricsView, 0, 1, true).
		AddItem(logView, 0, 1, false)

	// The dashboard state mirrors the model's published events and is only
	// touched from the tview event loop via QueueUpdateDraw.
	var (
		snap     coach.PhaseEvent
		reading  coach.Reading
		zone     coach.ZoneClassification
		coaching coach.CoachingStatus
		conn     ble.ConnectionState
	)

	render := func() {
		var b strings.Builder
		fmt.Fprintf(&b, "[yellow]Plan:[-] %s\n", planName)
		fmt.Fprintf(&b, "[yellow]Connection:[-] %s\n\n", conn)
		fmt.Fprintf(&b, "[yellow]Phase:[-] %s", snap.Phase)
		if snap.Phase.Active() {
			fmt.Fprintf(&b, "  (series %d/%d)", snap.Series, snap.TotalSeries)
		}
		fmt.Fprintf(&b, "\n[yellow]Remaining:[-] %s\n", snap.PhaseRemaining.Round(time.Second))
		fmt.Fprintf(&b, "[yellow]Elapsed:[-] %s\n\n", snap.TotalElapsed.Round(time.Second))
		fmt.Fprintf(&b, "[yellow]Heart rate:[-] %d BPM (%s)  %s\n", reading.BPM, reading.Source, zone)
		fmt.Fprintf(&b, "[yellow]Cadence:[-] %d SPM\n", reading.CadenceSPM)
		if reading.PaceSecPerKm > 0 {
			fmt.Fprintf(&b, "[yellow]Pace:[-] %s /km\n", formatPace(reading.PaceSecPerKm))
		} else {
			fmt.Fprintf(&b, "[yellow]Pace:[-] --\n")
		}
		fmt.Fprintf(&b, "[yellow]Distance:[-] %.0f m\n\n", reading.DistanceMeters)
		fmt.Fprintf(&b, "[yellow]Coach:[-] %s\n\n", coaching)
		b.WriteString("[green]s[-]tart  [green]p[-]ause  [green]r[-]esume  e[green]x[-]it workout  [green]c[-]onnect  [green]q[-]uit")
		metricsView.SetText(b.String())
	}
	render()

	phaseCh := make(chan coach.PhaseEvent, 8)
	readingCh := make(chan coach.Reading, 32)
	zoneCh := make(chan coach.ZoneClassification, 8)
	coachingCh := make(chan coach.CoachingStatus, 8)
	connCh := make(chan ble.ConnectionState, 8)
	logCh := make(chan string, 64)

	defer model.ListenToPhaseEvents(phaseCh)()
	defer model.ListenToReadings(readingCh)()
	defer model.ListenToZoneStatus(zoneCh)()
	defer model.ListenToCoaching(coachingCh)()
	defer model.ListenToConnectionState(connCh)()
	defer model.ListenToLog(logCh)()

	go_func_utils.SafeGo(logger, func() {
		for {
			select {
			case ev := <-phaseCh:
				app.QueueUpdateDraw(func() { snap = ev; render() })
			case r := <-readingCh:
				app.QueueUpdateDraw(func() { reading = r; render() })
			case z := <-zoneCh:
				app.QueueUpdateDraw(func() { zone = z; render() })
			case c := <-coachingCh:
				app.QueueUpdateDraw(func() { coaching = c; render() })
			case c := <-connCh:
				app.QueueUpdateDraw(func() { conn = c; render() })
			case line := <-logCh:
				app.QueueUpdateDraw(func() { fmt.Fprintln(logView, tview.Escape(line)) })
			}
		}
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape, event.Rune() == 'q':
			app.Stop()
			return nil
		case event.Rune() == 's':
			if err := model.StartWorkout(planName); err != nil {
				logger.Printf("Start workout: %v", err)
				return nil
			}
			if sim != nil {
				if plan, ok := coach.GetPlanByName(planName); ok {
					sim.Start(&plan)
				}
			}
			return nil
		case event.Rune() == 'p':
			model.PauseWorkout()
			return nil
		case event.Rune() == 'r':
			model.ResumeWorkout()
			return nil
		case event.Rune() == 'x':
			model.StopWorkout()
			return nil
		case event.Rune() == 'c':
			if simulate {
				return nil
			}
			ranked := manager.RankedDevices()
			if len(ranked) == 0 {
				logger.Printf("No devices discovered yet")
				manager.StartScan()
				return nil
			}
			best := ranked[0]
			prefs.SetPreferredDevice(best.Address, best.Name)
			go_func_utils.SafeGo(logger, func() { manager.Connect(best.Address) })
			return nil
		}
		return event
	})

	if err := app.SetRoot(flex, true).SetFocus(metricsView).Run(); err != nil {
		panic(err)
	}
}

func formatPace(secPerKm float64) string {
	total := int(secPerKm)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
