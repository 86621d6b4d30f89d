package evacam

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Bin1119/EVA-CAM/storage"
)

// ArmConfig selects and parameterizes the robot link.
type ArmConfig struct {
	Transport  string // "tcp" or "serial"
	Addr       string
	SerialDev  string
	SerialBaud int
	Timeout    time.Duration
	GoHome     bool // move to the home position at connect
}

// CameraConfig parameterizes the acquisition box.
type CameraConfig struct {
	Addr       string
	Mode       string
	APSSubmode string
	EVSSubmode string
	Timeout    time.Duration
	Exposure   time.Duration // APS exposure, 0 keeps the device default
	FPS        float64       // APS frame rate, 0 keeps the device default
	// Simulate replaces the hardware link with the in-process simulator,
	// for dry runs without an acquisition box attached.
	Simulate bool
}

// Config is the immutable per-session configuration snapshot.
type Config struct {
	Arm      ArmConfig
	Camera   CameraConfig
	Motion   MotionSettings
	Safety   SafetyLimits
	Recorder RecorderConfig

	RecordingEnabled bool
	StatusAddr       string // empty disables the status server
	LogLevel         string
	LogFormat        string
}

// LoadEnv reads the .env file from the working directory into the process
// environment. A missing file is not an error; system env and defaults
// apply.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// ConfigFromEnv assembles the configuration snapshot from EVACAM_*
// environment variables, with working defaults for every value.
func ConfigFromEnv() Config {
	return Config{
		Arm: ArmConfig{
			Transport:  getEnv("EVACAM_ARM_TRANSPORT", "tcp"),
			Addr:       getEnv("EVACAM_ARM_ADDR", "192.168.1.113:3000"),
			SerialDev:  getEnv("EVACAM_ARM_SERIAL_DEV", "/dev/ttyUSB0"),
			SerialBaud: getEnvInt("EVACAM_ARM_SERIAL_BAUD", 115200),
			Timeout:    getEnvDuration("EVACAM_ARM_TIMEOUT", 10*time.Second),
			GoHome:     getEnvBool("EVACAM_ARM_GO_HOME", false),
		},
		Camera: CameraConfig{
			Addr:       getEnv("EVACAM_CAMERA_ADDR", "192.168.1.10:8800"),
			Mode:       getEnv("EVACAM_CAMERA_MODE", "HVS"),
			APSSubmode: getEnv("EVACAM_CAMERA_APS_SUBMODE", "NORMAL_V2"),
			EVSSubmode: getEnv("EVACAM_CAMERA_EVS_SUBMODE", "NORMAL_V2"),
			Timeout:    getEnvDuration("EVACAM_CAMERA_TIMEOUT", 10*time.Second),
			Exposure:   getEnvDuration("EVACAM_CAMERA_EXPOSURE", 0),
			FPS:        getEnvFloat("EVACAM_CAMERA_FPS", 0),
			Simulate:   getEnvBool("EVACAM_CAMERA_SIMULATE", false),
		},
		Motion: MotionSettings{
			TickPeriod:     getEnvDuration("EVACAM_TICK_PERIOD", time.Millisecond),
			LinearStepMM:   getEnvFloat("EVACAM_LINEAR_STEP_MM", 5),
			AngularStepDeg: getEnvFloat("EVACAM_ANGULAR_STEP_DEG", 1),
			LinearSpeed:    getEnvFloat("EVACAM_LINEAR_SPEED", 100),
			AngularSpeed:   getEnvFloat("EVACAM_ANGULAR_SPEED", 50),
			StopTimeout:    getEnvDuration("EVACAM_STOP_TIMEOUT", 2*time.Second),
		},
		Safety: SafetyLimits{
			MaxLinearSpeed:  getEnvFloat("EVACAM_MAX_LINEAR_SPEED", 200),
			MaxAngularSpeed: getEnvFloat("EVACAM_MAX_ANGULAR_SPEED", 100),
			Workspace: WorkspaceBounds{
				X: AxisBounds{getEnvFloat("EVACAM_WORKSPACE_X_MIN", -700), getEnvFloat("EVACAM_WORKSPACE_X_MAX", 700)},
				Y: AxisBounds{getEnvFloat("EVACAM_WORKSPACE_Y_MIN", -700), getEnvFloat("EVACAM_WORKSPACE_Y_MAX", 700)},
				Z: AxisBounds{getEnvFloat("EVACAM_WORKSPACE_Z_MIN", 0), getEnvFloat("EVACAM_WORKSPACE_Z_MAX", 900)},
			},
			AngleMin:             getEnvFloat("EVACAM_ANGLE_MIN", -360),
			AngleMax:             getEnvFloat("EVACAM_ANGLE_MAX", 360),
			CollisionSensitivity: getEnvInt("EVACAM_COLLISION_SENSITIVITY", 0),
		},
		Recorder: RecorderConfig{
			OutputDir: getEnv("EVACAM_OUTPUT_DIR", "./data"),
			Format:    storage.Format(getEnv("EVACAM_STORAGE_FORMAT", "container")),
			BatchSize: getEnvInt("EVACAM_BATCH_SIZE", 512),
			Preview:   getEnvBool("EVACAM_PREVIEW", true),
		},
		RecordingEnabled: getEnvBool("EVACAM_RECORDING_ENABLED", true),
		StatusAddr:       getEnv("EVACAM_STATUS_ADDR", ""),
		LogLevel:         getEnv("EVACAM_LOG_LEVEL", "info"),
		LogFormat:        getEnv("EVACAM_LOG_FORMAT", "text"),
	}
}

func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseBool(strings.ToLower(s)); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
