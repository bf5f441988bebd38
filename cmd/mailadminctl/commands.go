package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mailadmin/backend/internal/domain"
	"mailadmin/backend/internal/service"
)

// newRootCmd 创建根命令，open 负责按需连接存储
func newRootCmd(open func() (*app, error)) *cobra.Command {
	var (
		actor string
		a     *app
	)

	root := &cobra.Command{
		Use:   "mailadminctl",
		Short: "邮件平台管理命令行工具",
		Long: `mailadminctl 直接连接管理后端的数据库，用于初始化管理员、
预置套餐以及在没有 Web 界面时切换域名套餐。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = open()
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a == nil {
				return nil
			}
			return a.Close()
		},
	}
	root.PersistentFlags().StringVar(&actor, "actor", "mailadminctl", "审计日志中记录的操作人")

	current := func() *app { return a }
	root.AddCommand(
		newCreateAdminCmd(current),
		newSeedPlansCmd(current),
		newPlansCmd(current),
		newApplyPlanCmd(current, &actor),
	)
	return root
}

func newCreateAdminCmd(current func() *app) *cobra.Command {
	var (
		password string
		super    bool
	)
	cmd := &cobra.Command{
		Use:   "create-admin <email>",
		Short: "创建管理员账户",
		Long:  "创建管理员账户。非超级管理员只能管理与自己邮箱同域的域名。",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := current().auth.CreateAdmin(cmd.Context(), args[0], password, super)
			if err != nil {
				return fmt.Errorf("failed to create admin: %w", err)
			}
			role := "domain admin of " + admin.ManagedDomain()
			if admin.IsSuper {
				role = "super admin"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admin %s created (%s).\n", admin.Email, role)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "登录密码")
	cmd.Flags().BoolVar(&super, "super", false, "创建超级管理员")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSeedPlansCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-plans",
		Short: "写入预置套餐（Standard / Premium / Ultra），已存在的同名套餐按预置值更新",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := current().plans.SeedDefaults(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to seed plans: %w", err)
			}
			return printPlans(cmd, plans)
		},
	}
}

func newPlansCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "查看套餐",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出全部套餐",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := current().plans.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list plans: %w", err)
			}
			return printPlans(cmd, plans)
		},
	})
	return cmd
}

func newApplyPlanCmd(current func() *app, actor *string) *cobra.Command {
	var suspend bool
	cmd := &cobra.Command{
		Use:   "apply-plan <domain> <plan>",
		Short: "为域名切换套餐，<plan> 可以是套餐名称或ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			plan, err := findPlan(cmd, a, args[1])
			if err != nil {
				return err
			}

			active := !suspend
			result, err := a.enforcer.ApplyPlan(cmd.Context(), *actor, service.ApplyPlanInput{
				Domain:   args[0],
				PlanID:   plan.ID,
				IsActive: &active,
			})
			if err != nil {
				return fmt.Errorf("failed to apply plan: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Domain %s now on plan %q", args[0], plan.Name)
			if result.PreviousPlanName != "" && result.PreviousPlanName != plan.Name {
				fmt.Fprintf(out, " (was %q)", result.PreviousPlanName)
			}
			fmt.Fprintf(out, ", %d mailboxes resynced to %d KB, active=%t.\n",
				result.Resynced, result.QuotaKB, result.IsActive)
			if result.Warning != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", result.Warning)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&suspend, "suspend", false, "同时停用域名")
	return cmd
}

// findPlan 先按ID再按名称查找套餐
func findPlan(cmd *cobra.Command, a *app, ref string) (*domain.Plan, error) {
	plan, err := a.plans.Get(cmd.Context(), ref)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, domain.ErrPlanNotFound) {
		return nil, err
	}

	plan, err = a.store.GetPlanByName(cmd.Context(), ref)
	if err != nil {
		return nil, fmt.Errorf("plan %q: %w", ref, err)
	}
	return plan, nil
}

func printPlans(cmd *cobra.Command, plans []*domain.Plan) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMAILBOXES\tALIASES\tQUOTA_MB\tDEFAULT")
	for _, p := range plans {
		def := ""
		if p.IsDefault {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			p.ID, p.Name, p.MaxMailboxes, p.MaxAliases, p.QuotaMB, def)
	}
	return w.Flush()
}
