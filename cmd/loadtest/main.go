package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// outcome 单次秒杀请求的结果。
type outcome struct {
	status int
	err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	voucherID := flag.Int64("voucher", 0, "voucher id (0 = create a fresh one)")
	stock := flag.Int64("stock", 1, "stock for the freshly created voucher")
	nUsers := flag.Int("users", 200, "distinct users in the oversell test")
	concurrency := flag.Int("c", 50, "max in-flight requests")
	checkStock := flag.Bool("check-stock", true, "read back redis stock after the test")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	id := *voucherID
	if id == 0 {
		var err error
		if id, err = createVoucher(client, *baseURL, *stock); err != nil {
			panic(fmt.Sprintf("create voucher: %v", err))
		}
		fmt.Println("created voucher", id)
	}

	// 超卖测试：users 个不同用户抢 stock 份库存，成功数不得超过库存。
	fmt.Printf("oversell test: voucher=%d users=%d concurrency=%d\n", id, *nUsers, *concurrency)
	report("oversell", fire(client, *baseURL, id, *nUsers, *concurrency, func(i int) int64 {
		return int64(i + 1)
	}))

	if *checkStock {
		if remaining, err := fetchStock(client, *baseURL, id); err != nil {
			fmt.Println("stock check:", err)
		} else {
			fmt.Println("final redis stock:", remaining)
		}
	}

	// 一人一单测试：固定用户连打 50 发，至多 1 个 200。
	fmt.Println("\nduplicate-user test: user=10001 requests=50")
	report("duplicate_user", fire(client, *baseURL, id, 50, *concurrency, func(int) int64 {
		return 10001
	}))
}

// fire 以给定并发度发出 total 个秒杀请求，userOf 决定第 i 个请求的用户。
func fire(client *http.Client, baseURL string, voucherID int64, total, concurrency int, userOf func(int) int64) []outcome {
	sem := make(chan struct{}, concurrency)
	out := make([]outcome, total)
	var wg sync.WaitGroup

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			url := fmt.Sprintf("%s/api/vouchers/%d/seckill", baseURL, voucherID)
			req, _ := http.NewRequest(http.MethodPost, url, nil)
			req.Header.Set("X-User-Id", strconv.FormatInt(userOf(idx), 10))

			resp, err := client.Do(req)
			if err != nil {
				out[idx] = outcome{err: err}
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			out[idx] = outcome{status: resp.StatusCode}
		}(i)
	}

	wg.Wait()
	return out
}

func report(name string, results []outcome) {
	byStatus := map[int]int{}
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			continue
		}
		byStatus[r.status]++
	}

	codes := make([]int, 0, len(byStatus))
	for code := range byStatus {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Printf("[%s] status distribution:\n", name)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, byStatus[code])
	}
	if failed > 0 {
		fmt.Printf("  transport errors -> %d\n", failed)
	}
}

// createVoucher 建一张时间窗已打开的秒杀券（服务端同时完成 Redis 预热）。
func createVoucher(client *http.Client, baseURL string, stock int64) (int64, error) {
	now := time.Now()
	payload, _ := json.Marshal(map[string]any{
		"title":      "loadtest voucher",
		"stock":      stock,
		"pay_value":  100,
		"begin_time": now.Add(-time.Minute).Format(time.RFC3339),
		"end_time":   now.Add(time.Hour).Format(time.RFC3339),
	})

	resp, err := client.Post(baseURL+"/api/vouchers", "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, raw)
	}

	var out struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, err
	}
	return out.Data.ID, nil
}

// fetchStock 读取 Redis 中的实时预扣减库存，压测后应为 max(0, 初始库存-成功数)。
func fetchStock(client *http.Client, baseURL string, voucherID int64) (int64, error) {
	resp, err := client.Get(fmt.Sprintf("%s/api/vouchers/%d/stock", baseURL, voucherID))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, raw)
	}

	var out struct {
		Data struct {
			Stock int64 `json:"stock"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, err
	}
	return out.Data.Stock, nil
}
