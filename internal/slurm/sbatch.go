// Package slurm builds batch scheduler scripts and submits them through
// the external sbatch binary.
package slurm

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"firestige.xyz/strix/internal/log"
)

// ErrInvalidSubmitOption reports a submission option outside the
// whitelist.
var ErrInvalidSubmitOption = errors.New("invalid submit option")

// NoJobID is the sentinel returned when no scheduler job id is available
// (dry-run or submission failure).
const NoJobID = -1

type opt struct {
	takesValue bool
	flag       string
}

// submitOpts is the closed whitelist of scheduler options. Keys are the
// abstract option names used throughout the orchestrator; values carry the
// sbatch flag spelling and whether the option takes a value.
var submitOpts = map[string]opt{
	"JOB_NAME":            {true, "--job-name="},
	"OUTPUT_FILE":         {true, "--output="},
	"ERROR_FILE":          {true, "--error="},
	"PARTITION":           {true, "--partition="},
	"TIME":                {true, "--time="},
	"EXTRA_NODE_INFO":     {true, "--extra-node-info="},
	"BURST_BUFFER":        {true, "--bb="},
	"BURST_BUFFER_FILE":   {true, "--bbf="},
	"BEGIN":               {true, "--begin="},
	"CHDIR":               {true, "--chdir="},
	"CLUSTER_CONSTRAINT":  {true, "--cluster-constraint="},
	"COMMENT":             {true, "--comment="},
	"CONTIGUOUS":          {false, "--contiguous"},
	"CORES_PER_SOCKET":    {true, "--cores-per-socket="},
	"CPU_FREQ":            {true, "--cpu-freq="},
	"CPUS_PER_TASK":       {true, "--cpus-per-task="},
	"DEADLINE":            {true, "--deadline="},
	"DEPENDENCY":          {true, "--dependency="},
	"EXPORT_FILE":         {true, "--export-file="},
	"NODE_FILE":           {true, "--nodefile="},
	"GID":                 {true, "--gid="},
	"GPUS_PER_SOCKET":     {true, "--gpus-per-socket="},
	"HOLD":                {false, "--hold"},
	"INPUT":               {true, "--input="},
	"KILL_ON_INVALID_DEP": {true, "--kill-on-invalid-dep="},
	"LICENSES":            {true, "--licenses="},
	"MAIL_TYPE":           {true, "--mail-type="},
	"MAIL_USER":           {true, "--mail-user="},
	"MIN_CPUS":            {true, "--mincpus="},
	"NODES":               {true, "--nodes="},
	"NTASKS":              {true, "--ntasks="},
	"NICE":                {true, "--nice="},
	"NTASKS_PER_CORE":     {true, "--ntasks-per-core="},
	"NTASKS_PER_NODE":     {true, "--ntasks-per-node="},
	"NTASKS_PER_SOCKET":   {true, "--ntasks-per-socket="},
	"PRIORITY":            {true, "--priority="},
	"PROPAGATE":           {true, "--propagate="},
	"REBOOT":              {false, "--reboot"},
	"OVERSUBSCRIBE":       {false, "--oversubscribe"},
	"CORE_SPEC":           {true, "--core-spec="},
	"SOCKETS_PER_NODE":    {true, "--sockets-per-node="},
	"THREAD_SPEC":         {true, "--thread-spec="},
	"THREADS_PER_CORE":    {true, "--threads-per-core="},
	"TIME_MIN":            {true, "--time-min="},
	"TMP":                 {true, "--tmp="},
	"UID":                 {true, "--uid="},
	"VERBOSE":             {false, "--verbose"},
	"NODE_LIST":           {true, "--nodelist="},
	"WRAP":                {true, "--wrap="},
	"EXCLUDE":             {true, "--exclude="},
	"ARRAY":               {true, "--array="},
	"ACCOUNT":             {true, "--account="},
	"QOS":                 {true, "--qos="},
	"MEM":                 {true, "--mem="},
	"MEM_PER_CPU":         {true, "--mem-per-cpu="},
	"GRES":                {true, "--gres="},
	"EXCLUSIVE":           {false, "--exclusive"},
}

var sbatchBin = "sbatch"

// SetSbatchBin overrides the sbatch binary invoked by Submit.
func SetSbatchBin(bin string) {
	if bin != "" {
		sbatchBin = bin
	}
}

// Executable returns the command used inside generated scripts to re-enter
// this program.
func Executable() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return "strix"
}

// Script is a batch scheduler script under construction.
type Script struct {
	Path  string
	lines []string
}

// NewScript validates opts against the whitelist and starts a script with
// the corresponding #SBATCH directives. Directive order follows the sorted
// option names so generated scripts are reproducible.
func NewScript(path string, opts map[string]string) (*Script, error) {
	s := &Script{Path: path, lines: []string{"#!/bin/bash"}}
	keys := make([]string, 0, len(opts))
	for key := range opts {
		if _, ok := submitOpts[key]; !ok {
			return nil, fmt.Errorf("%q: %w", key, ErrInvalidSubmitOption)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		o := submitOpts[key]
		if o.takesValue {
			s.lines = append(s.lines, "#SBATCH "+o.flag+opts[key])
		} else {
			s.lines = append(s.lines, "#SBATCH "+o.flag)
		}
	}
	return s, nil
}

// SetVirtualenv appends an activation line when venv is non-empty.
func (s *Script) SetVirtualenv(venv string) {
	if venv != "" {
		s.Append("source " + venv + "/bin/activate")
	}
}

// Append adds a command line to the script body.
func (s *Script) Append(line string) {
	s.lines = append(s.lines, line)
}

// Command returns the last appended command line, "" for an empty body.
func (s *Script) Command() string {
	for i := len(s.lines) - 1; i >= 0; i-- {
		if !strings.HasPrefix(s.lines[i], "#") {
			return s.lines[i]
		}
	}
	return ""
}

// Dump writes the script to its path.
func (s *Script) Dump() error {
	content := strings.Join(s.lines, "\n") + "\n"
	if err := os.WriteFile(s.Path, []byte(content), 0o755); err != nil {
		return fmt.Errorf("slurm: write script %q: %w", s.Path, err)
	}
	return nil
}

// Submit writes the script and hands it to sbatch. The scheduler job id is
// parsed from the trailing token of sbatch's stdout ("Submitted batch job
// N"). Any failure returns NoJobID with the error.
func (s *Script) Submit() (int, error) {
	if err := s.Dump(); err != nil {
		return NoJobID, err
	}
	logger := log.GetLogger().WithField("script", s.Path)
	logger.Info("submitting batch script")

	out, err := exec.Command(sbatchBin, s.Path).Output()
	if err != nil {
		return NoJobID, fmt.Errorf("slurm: sbatch %q: %w", s.Path, err)
	}
	output := strings.TrimSpace(string(out))
	if !strings.Contains(output, "Submitted batch job") {
		return NoJobID, fmt.Errorf("slurm: unexpected sbatch output %q", output)
	}
	fields := strings.Fields(output)
	id, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return NoJobID, fmt.Errorf("slurm: parse job id from %q: %w", output, err)
	}
	logger.Infof("submitted batch job %d", id)
	return id, nil
}
