// =============================================================================
// 🧠 MockEmbedder - 向量嵌入模拟实现
// =============================================================================
// 用于记忆检索测试的确定性嵌入器：显式登记的文本返回指定向量，
// 其余文本按 FNV 哈希生成稳定的单位向量。
//
// 使用方法:
//
//	embedder := mocks.NewMockEmbedder(4)
//	embedder.Set("likes tea", []float32{1, 0, 0, 0})
//	vectors, _ := embedder.Embed(ctx, []string{"likes tea"})
// =============================================================================
package mocks

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockEmbedder 是 llm.Embedder 的模拟实现
type MockEmbedder struct {
	mu sync.Mutex

	dim     int
	vectors map[string][]float32
	err     error

	// 调用记录
	calls      int
	batchSizes []int
}

// NewMockEmbedder 创建维度为 dim 的嵌入器
func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &MockEmbedder{dim: dim, vectors: make(map[string][]float32)}
}

// Set 为 text 登记固定向量
func (m *MockEmbedder) Set(text string, vector []float32) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vector
	return m
}

// WithError 设置返回错误
func (m *MockEmbedder) WithError(err error) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Calls 返回 Embed 调用次数
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// BatchSizes 返回每次调用的输入条数
func (m *MockEmbedder) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSizes...)
}

// Embed 实现 llm.Embedder
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.batchSizes = append(m.batchSizes, len(texts))
	if m.err != nil {
		return nil, m.err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := m.vectors[text]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		out[i] = hashVector(text, m.dim)
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(i)})
		_, _ = h.Write([]byte(text))
		x := float64(h.Sum32()%2000)/1000 - 1
		v[i] = float32(x)
		norm += x * x
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
