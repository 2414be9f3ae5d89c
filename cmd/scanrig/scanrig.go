package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	sysctl "github.com/lorenzosaino/go-sysctl"
	"github.com/spf13/viper"
	"github.com/usnistgov/scanrig"
	"github.com/usnistgov/scanrig/internal/rigdb"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("hardware", "simulated")

	HOME, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotScanrig := filepath.Join(HOME, ".scanrig")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotScanrig, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/scanrig"))
	viper.AddConfigPath(dotScanrig)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

// checkRealtimeThrottling warns when the kernel's realtime throttling
// budget would preempt a long acquisition callback. The callback has a
// hard deadline of blockSize/rate seconds; a throttled RT runtime means
// the kernel can steal part of it.
func checkRealtimeThrottling() {
	val, err := sysctl.Get("kernel.sched_rt_runtime_us")
	if err != nil {
		// Not Linux, or /proc/sys unavailable. Nothing to check.
		return
	}
	if val != "-1" {
		fmt.Printf("Note: kernel.sched_rt_runtime_us=%s; realtime tasks are throttled.\n", val)
		fmt.Println("For long acquisition callbacks consider: sysctl -w kernel.sched_rt_runtime_us=-1")
	}
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	scanrig.Build.Date = buildDate
	scanrig.Build.Githash = githash

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is scanrig version %s\n", scanrig.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is scanrig version %s (git commit %s)\n", scanrig.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".scanrig", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	scanrig.ProblemLogger = startLogger(problemname)
	scanrig.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", logname)
	scanrig.UpdateLogger.Printf("\n\n\n\n%s", banner)

	checkRealtimeThrottling()

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}
	cfg, err := scanrig.LoadRigConfig()
	if err != nil {
		scanrig.ProblemLogger.Print(err)
		panic(err)
	}

	var hw scanrig.Hardware
	switch hwname := viper.GetString("hardware"); hwname {
	case "simulated":
		hw = scanrig.NewSimHardware()
	default:
		panic(fmt.Sprintf("hardware %q is not recognized (no vendor capability layer is linked)", hwname))
	}

	abort := make(chan struct{})
	db := startRunDatabase(abort)

	messages := make(chan scanrig.StatusUpdate, 10)
	go scanrig.RunStatusPublisher(messages, scanrig.Ports.Status, abort)

	rig, err := scanrig.NewRig(cfg, hw, func(fraction float64, message string) {
		scanrig.UpdateLogger.Printf("bring-up %3.0f%%: %s", 100*fraction, message)
		messages <- scanrig.StatusUpdate{Tag: "PROGRESS",
			State: struct {
				Fraction float64
				Message  string
			}{fraction, message}}
	})
	if err != nil {
		scanrig.ProblemLogger.Print(err)
		panic(err)
	}
	defer rig.Stop()

	scanrig.RunRPCServer(rig, messages, db, scanrig.Ports.RPC)
	close(abort)
	writeMemoryProfile(memprofile)
}

// startRunDatabase opens the run database, or a dummy connection when no
// ClickHouse server is reachable.
func startRunDatabase(abort <-chan struct{}) *rigdb.RigDBConnection {
	host, err := os.Hostname()
	if err != nil {
		host = "host not detected"
	}
	activity := &rigdb.ActivityMessage{
		ID:        rigdb.NewRunID(),
		Hostname:  host,
		Githash:   githash,
		Version:   scanrig.Build.Version,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Start:     scanrig.StartTime,
	}
	db := rigdb.StartDBConnection(activity, abort)
	if !db.IsConnected() {
		fmt.Println("No run database; scan runs will not be recorded.")
		return rigdb.DummyDBConnection()
	}
	return db
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
