package config

const (
	defaultDataDir = "~/.local/share/remotedev"
	defaultLogDir  = "~/.local/share/remotedev/logs"

	defaultTickInterval         = 2
	defaultShutdownTimeout      = 30
	defaultFirstStage           = "REQUIREMENT"
	defaultPRPollInterval       = 30
	defaultPRTimeoutHours       = 24
	defaultGitHubAPIURL         = "https://api.github.com"
	defaultGitHubRequestTimeout = 30
	defaultGitRemote            = "origin"
	defaultGitUsername          = "x-access-token"
	defaultGitBaseBranch        = "main"
	defaultNotifyTimeout        = 10
	defaultNATSSubject          = "remotedev.notifications"
	defaultAgentTimeout         = 600
	defaultLogFormat            = "auto"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultWorkflowName         = "product_dev_v1"
)

// DefaultStages is the built-in agent order the pipeline drains each tick.
var DefaultStages = []string{
	"REQUIREMENT",
	"PLAN",
	"UXUI",
	"ARCHITECT",
	"CODE",
	"REFACTORING",
	"TESTQA",
	"DOC",
	"RELEASE",
	"MONITORING",
	"EVALUATION",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	stages := make([]string, len(DefaultStages))
	copy(stages, DefaultStages)
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Pipeline: Pipeline{
			TickInterval:    defaultTickInterval,
			ShutdownTimeout: defaultShutdownTimeout,
			Stages:          stages,
			FirstStage:      defaultFirstStage,
		},
		PRWait: PRWait{
			PollInterval: defaultPRPollInterval,
			TimeoutHours: defaultPRTimeoutHours,
		},
		GitHub: GitHub{
			APIURL:         defaultGitHubAPIURL,
			RequestTimeout: defaultGitHubRequestTimeout,
		},
		Git: Git{
			Remote:     defaultGitRemote,
			Username:   defaultGitUsername,
			BaseBranch: defaultGitBaseBranch,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			NATSSubject:    defaultNATSSubject,
		},
		Workflow: Workflow{
			DefaultName: defaultWorkflowName,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
