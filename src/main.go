package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"lumendb/src/auth"
	"lumendb/src/server"
	"lumendb/src/settings"
)

// printUsage prints helpful usage information
func printUsage() {
	log.Println("LumenDB - a JSON document database server")
	log.Println("\nUsage:")
	log.Println("  lumendb [options]")
	log.Println("\nOptions:")
	flag.PrintDefaults()

	log.Println("\nExamples:")
	log.Println("  lumendb --datadir=/data")
	log.Println("  lumendb --port=1777 --auth")
}

func main() {
	// Get the global settings instance
	args := settings.GetSettings()

	// Define command line flags that map to the Arguments struct
	flag.StringVar(&args.DataDir, "datadir", "./data", "Directory to store data files")
	flag.StringVar(&args.LogDir, "logdir", "./log_files", "Log directory setting (not read; logs go to stdout/stderr)")
	flag.StringVar(&args.JournalDir, "journaldir", "./journal", "Directory for mutation journal files")
	flag.Int64Var(&args.MaxJournalFileSize, "maxjournalfilesize", 1000000, "Maximum size of journal files in bytes (default: 1MB)")
	flag.StringVar(&args.Host, "host", "127.0.0.1", "Host name or IP address to listen on")
	flag.IntVar(&args.Port, "port", 1777, "Port for the HTTP server")
	flag.BoolVar(&args.Verbose, "verbose", false, "Enable verbose logging")
	flag.StringVar(&args.ConfigFile, "config", "", "Path to config file")
	flag.BoolVar(&args.AuthEnabled, "auth", false, "Enable authentication")
	flag.StringVar(&args.Version, "version", "0.1.0", "Version string stored in the settings (not printed)")
	flag.IntVar(&args.DocumentCacheSize, "doccachesize", 1024, "Number of decoded documents to cache per process")
	flag.BoolVar(&args.PrintToScreen, "print", true, "Print log messages to screen (not read; logs always go to stdout/stderr)")
	flag.BoolVar(&args.Debug, "debug", false, "Enable debug mode")

	// Parse the command line
	flag.Parse()

	// Merge the config file, if one was given
	if args.ConfigFile != "" {
		if err := settings.LoadConfigFile(args, args.ConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
			printUsage()
			os.Exit(1)
		}
	}

	// Validate the arguments
	if err := validateArguments(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage()
		os.Exit(1)
	}

	// Print the arguments if in verbose mode
	if args.Verbose {
		log.Println("LumenDB starting with options:")
		log.Printf("  Data Directory: %s\n", args.DataDir)
		log.Printf("  Journal Directory: %s\n", args.JournalDir)
		log.Printf("  Host: %s\n", args.Host)
		log.Printf("  Port: %d\n", args.Port)
		log.Printf("  Auth: %v\n", args.AuthEnabled)
		log.Printf("  Config File: %s\n", args.ConfigFile)
	}

	// Create and start the server
	srv, err := server.InitServer(args)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	// Seed a default admin on first run so the API is reachable
	if args.AuthEnabled && srv.UserCount() == 0 {
		if err := srv.AddUser("admin", "admin", auth.RoleAdmin); err != nil {
			log.Fatalf("Failed to create default admin user: %v", err)
		}
		log.Println("Created default admin user (change its password)")
	}

	// Start the server
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Handle graceful shutdown
	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)

	<-shutdownSignal
	fmt.Println("\nShutting down server...")

	if err := srv.Stop(); err != nil {
		log.Printf("Error stopping server: %v", err)
	}

	fmt.Println("Server shutdown complete")
}

// validateArguments validates the arguments and returns an error if invalid
func validateArguments(args *settings.Arguments) error {
	// Check if data directory exists and is accessible
	dirInfo, err := os.Stat(args.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Try to create the directory
			err = os.MkdirAll(args.DataDir, 0755)
			if err != nil {
				return fmt.Errorf("could not create data directory: %w", err)
			}
		} else {
			return fmt.Errorf("error accessing data directory: %w", err)
		}
	} else if !dirInfo.IsDir() {
		return fmt.Errorf("data directory path exists but is not a directory: %s", args.DataDir)
	}

	// Validate port range
	if args.Port < 1 || args.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", args.Port)
	}

	if args.MaxJournalFileSize <= 0 {
		return fmt.Errorf("invalid max journal file size: %d", args.MaxJournalFileSize)
	}

	return nil
}
