package main

import (
	"askable/internal/catalog"
	"askable/internal/planner"
	"askable/internal/runner"
	"askable/internal/services"
	"askable/pkg/config"
	"askable/pkg/logger"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

func main() {
	inventoryPath := flag.String("inventory", "", "ini 格式的主机清单文件")
	hosts := flag.String("hosts", "", "目标主机，逗号分隔；为空时使用清单中全部主机")
	selectionPath := flag.String("selection", "", "选择参数 JSON 文件 ({\"mode\":\"unified\",\"tree\":{...}})")
	categories := flag.String("categories", "vulnerability_categories.json", "检查项分类文件")
	mapping := flag.String("mapping", "filename_mapping.json", "检查项到模块的映射文件")
	workdir := flag.String("workdir", ".", "playbook、日志和结果文件的根目录")
	taskDir := flag.String("tasks", "tasks", "检查模块 playbook 目录，相对路径按 -workdir 解析")
	binary := flag.String("binary", "ansible-playbook", "ansible-playbook 可执行文件")
	poll := flag.Duration("poll", 500*time.Millisecond, "输出轮询超时")
	timeout := flag.Duration("timeout", 0, "执行超时，0 表示不限制")
	verbose := flag.Int("v", 1, "ansible-playbook 的 -v 个数")
	skipFacts := flag.Bool("skip-facts", false, "不收集 facts")
	flag.Parse()

	log, err := logger.New(config.LogConfig{Level: "info", Format: "text"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.SetOutput(os.Stderr)

	if *inventoryPath == "" || *selectionPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cat, err := catalog.Load(*categories, *mapping)
	if err != nil {
		log.Fatalf("加载检查项目录失败: %v", err)
	}

	text, err := os.ReadFile(*inventoryPath)
	if err != nil {
		log.Fatalf("读取清单失败: %v", err)
	}
	selection, err := loadSelection(*selectionPath)
	if err != nil {
		log.Fatalf("读取选择参数失败: %v", err)
	}

	cfg := config.RunnerConfig{
		Binary:      *binary,
		WorkDir:     *workdir,
		PlaybookDir: filepath.Join(*workdir, "playbooks"),
		LogDir:      filepath.Join(*workdir, "logs"),
		TaskDir:     *taskDir,
		SkipFacts:   *skipFacts,
		Verbosity:   *verbose,
		PollTimeout: *poll,
		RunTimeout:  *timeout,
	}
	pipeline := services.NewPipeline(cat, cfg, log)

	pr, err := pipeline.Prepare(services.RunRequest{
		Inventory: string(text),
		Hosts:     splitHosts(*hosts),
		Selection: selection,
	})
	if err != nil {
		log.Fatalf("生成执行计划失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, report, err := pipeline.Execute(ctx, pipeline.NewInvoker(), pr, func(ev runner.Event) {
		switch ev.Type {
		case runner.EventOutput:
			fmt.Println(ev.Line)
		case runner.EventError:
			log.Error(ev.Message)
		}
	})
	if err != nil {
		log.Fatalf("执行失败: %v", err)
	}

	out := struct {
		RunID    string      `json:"run_id"`
		ExitCode int         `json:"exit_code"`
		Recap    interface{} `json:"recap"`
		Report   interface{} `json:"report"`
	}{pr.RunID, result.ExitCode, result.Recap, report}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("输出报告失败: %v", err)
	}

	if result.ExitCode != 0 {
		os.Exit(result.ExitCode)
	}
}

func loadSelection(path string) (planner.Selection, error) {
	var sel planner.Selection
	data, err := os.ReadFile(path)
	if err != nil {
		return sel, err
	}
	if err := json.Unmarshal(data, &sel); err != nil {
		return sel, err
	}
	return sel, sel.Validate()
}

func splitHosts(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}
