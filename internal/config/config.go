package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         int
	Password     string
	LogDirectory string

	// Storage
	DBDriver             string // sqlite | postgres | none
	SQLitePath           string
	DBHost               string
	DBPort               string
	DBUser               string
	DBPassword           string
	DBName               string
	DBSSLMode            string
	StorageBufferLimit   int
	StorageFlushInterval int // seconds
	DeviceName           string
	DeviceModel          string

	// Landmark extractor sidecar
	ExtractorURL       string
	ExtractorTimeoutMs int

	// Camera search space
	CameraIndices      []int
	CameraCodecs       []string
	CameraResolutions  []string // WxH
	CameraFPS          []float64
	CameraIndex        int
	CameraWidth        int
	CameraHeight       int
	CameraTargetFPS    float64
	CameraCodec        string
	CameraOrientation  string
	CaptureMaxFailures int
	NoCameraBackoffMs  int
	LoopIntervalMs     int

	// Detectors
	MicrosleepSeconds   float64
	BlinkWindowSeconds  float64
	ClosedEyePixels     float64
	YawnHoldSeconds     float64
	YawnWindowSeconds   float64
	RubDistancePixels   float64
	RubHoldSeconds      float64
	RubWindowSeconds    float64
	PitchHoldSeconds    float64
	PitchWindowSeconds  float64
	PitchRatioThreshold float64

	NoFaceResetFrames int
	AlarmCommand      string
	PresetsFile       string
}

// Load reads the process configuration from the environment. A .env file in
// the working directory is loaded first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		Port:         getEnvAsInt("PORT", 8000),
		Password:     getEnv("PASSWORD", ""),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),

		DBDriver:             getEnv("DB_DRIVER", "sqlite"),
		SQLitePath:           getEnv("SQLITE_PATH", filepath.Join(".", "data", "somno.db")),
		DBHost:               getEnv("DB_HOST", "localhost"),
		DBPort:               getEnv("DB_PORT", "5432"),
		DBUser:               getEnv("DB_USER", "postgres"),
		DBPassword:           getEnv("DB_PASSWORD", ""),
		DBName:               getEnv("DB_NAME", "somno"),
		DBSSLMode:            getEnv("DB_SSLMODE", "disable"),
		StorageBufferLimit:   getEnvAsInt("STORAGE_BUFFER_LIMIT", 2000),
		StorageFlushInterval: getEnvAsInt("STORAGE_FLUSH_INTERVAL", 5),
		DeviceName:           getEnv("DEVICE_NAME", "somno-device"),
		DeviceModel:          getEnv("DEVICE_MODEL", "generic"),

		ExtractorURL:       getEnv("EXTRACTOR_URL", "ws://127.0.0.1:9000/landmarks"),
		ExtractorTimeoutMs: getEnvAsInt("EXTRACTOR_TIMEOUT_MS", 500),

		CameraIndices:      getEnvAsIntList("CAMERA_INDICES", []int{0, 1, 2}),
		CameraCodecs:       getEnvAsList("CAMERA_CODECS", []string{"MJPG", "YUYV"}),
		CameraResolutions:  getEnvAsList("CAMERA_RESOLUTIONS", []string{"1280x720", "640x480", "320x240"}),
		CameraFPS:          getEnvAsFloatList("CAMERA_FPS_LIST", []float64{30, 15}),
		CameraIndex:        getEnvAsInt("CAMERA_INDEX", 0),
		CameraWidth:        getEnvAsInt("CAMERA_WIDTH", 640),
		CameraHeight:       getEnvAsInt("CAMERA_HEIGHT", 480),
		CameraTargetFPS:    getEnvAsFloat("CAMERA_FPS", 30),
		CameraCodec:        getEnv("CAMERA_CODEC", "MJPG"),
		CameraOrientation:  getEnv("CAMERA_ORIENTATION", "none"),
		CaptureMaxFailures: getEnvAsInt("CAPTURE_MAX_FAILURES", 25),
		NoCameraBackoffMs:  getEnvAsInt("NO_CAMERA_BACKOFF_MS", 3000),
		LoopIntervalMs:     getEnvAsInt("LOOP_INTERVAL_MS", 20),

		MicrosleepSeconds:   getEnvAsFloat("MICROSLEEP_S", 2.0),
		BlinkWindowSeconds:  getEnvAsFloat("BLINK_WINDOW_S", 60),
		ClosedEyePixels:     getEnvAsFloat("CLOSED_EYE_PX", 4.0),
		YawnHoldSeconds:     getEnvAsFloat("YAWN_HOLD_S", 4.0),
		YawnWindowSeconds:   getEnvAsFloat("YAWN_WINDOW_S", 180),
		RubDistancePixels:   getEnvAsFloat("RUB_DIST_PX", 40),
		RubHoldSeconds:      getEnvAsFloat("RUB_HOLD_S", 1.0),
		RubWindowSeconds:    getEnvAsFloat("RUB_WINDOW_S", 300),
		PitchHoldSeconds:    getEnvAsFloat("PITCH_HOLD_S", 3.0),
		PitchWindowSeconds:  getEnvAsFloat("PITCH_WINDOW_S", 180),
		PitchRatioThreshold: getEnvAsFloat("PITCH_RATIO", 1.0),

		NoFaceResetFrames: getEnvAsInt("NO_FACE_RESET_FRAMES", 30),
		AlarmCommand:      getEnv("ALARM_COMMAND", ""),
		PresetsFile:       getEnv("PRESETS_FILE", ""),
	}
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// DSNForLog is DSN with the password masked.
func (c *Config) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsIntList(key string, defaultValue []int) []int {
	parts := getEnvAsList(key, nil)
	if parts == nil {
		return defaultValue
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return defaultValue
		}
		out = append(out, v)
	}
	return out
}

func getEnvAsFloatList(key string, defaultValue []float64) []float64 {
	parts := getEnvAsList(key, nil)
	if parts == nil {
		return defaultValue
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, v)
	}
	return out
}
