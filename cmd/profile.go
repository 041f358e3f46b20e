/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package cmd

import (
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// addProfilingFlags registers the Go profiler options.
func addProfilingFlags(fs *pflag.FlagSet) {
	fs.String("cpu-profile", "", "Write CPU profile to file")
	fs.String("mem-profile", "", "Write memory profile to file")
	fs.String("block-profile", "", "Write block profile to file")
	fs.String("mutex-profile", "", "Write mutex profile to file")
	fs.String("pprof-addr", "", "Enable pprof HTTP server on address (e.g., localhost:6060)")
	fs.Int("block-profile-rate", 1, "Block profile rate (0 = disabled, 1 = every blocking event)")
	fs.Int("mutex-profile-fraction", 1, "Mutex profile fraction (0 = disabled, 1 = every mutex contention)")
}

// startProfiling enables the requested profiles. The returned function
// writes the snapshot profiles and must run before the process exits.
func startProfiling() (stop func()) {
	var finish []func()

	if path := viper.GetString("block-profile"); path != "" {
		if rate := viper.GetInt("block-profile-rate"); rate > 0 {
			runtime.SetBlockProfileRate(rate)
			log.Printf("Block profiling enabled with rate: %d", rate)
			finish = append(finish, func() { writeProfile("block", path) })
		}
	}

	if path := viper.GetString("mutex-profile"); path != "" {
		if fraction := viper.GetInt("mutex-profile-fraction"); fraction > 0 {
			runtime.SetMutexProfileFraction(fraction)
			log.Printf("Mutex profiling enabled with fraction: %d", fraction)
			finish = append(finish, func() { writeProfile("mutex", path) })
		}
	}

	if addr := viper.GetString("pprof-addr"); addr != "" {
		go func() {
			log.Printf("Starting pprof HTTP server on http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Printf("pprof HTTP server failed: %v", err)
			}
		}()
	}

	if path := viper.GetString("cpu-profile"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("Could not create CPU profile: %v", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Could not start CPU profile: %v", err)
		}
		log.Printf("CPU profiling enabled, writing to: %s", path)
		finish = append(finish, func() {
			pprof.StopCPUProfile()
			f.Close()
		})
	}

	if path := viper.GetString("mem-profile"); path != "" {
		finish = append(finish, func() {
			runtime.GC() // Get up-to-date statistics
			writeProfile("heap", path)
		})
	}

	return func() {
		for i := len(finish) - 1; i >= 0; i-- {
			finish[i]()
		}
	}
}

func writeProfile(name, path string) {
	f, err := os.Create(path)
	if err != nil {
		log.Printf("Could not create %s profile: %v", name, err)
		return
	}
	defer f.Close()

	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		log.Printf("Could not write %s profile: %v", name, err)
		return
	}
	log.Printf("%s profile written to: %s", name, path)
}
