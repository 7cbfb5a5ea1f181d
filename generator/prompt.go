package generator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt 表示一次轮次发送的指令和输入。
type Prompt struct {
	Instructions string
	Input        string
}

const (
	maxSceneChars   = 950
	maxContentChars = 150
)

// BuildResearchPrompt 研究阶段：分析公司与趋势。
func BuildResearchPrompt(companyContext, brandHero string) Prompt {
	var sb strings.Builder
	sb.WriteString("You are a social media research analyst.\n")
	sb.WriteString("Use search_trends for current trends in the company's industry and search_competitors for its competitive landscape.\n")
	sb.WriteString("Reply with a single JSON object with keys company_analysis (string), trends (array of strings) and competition (object).\n")
	sb.WriteString("Do not add any text outside the JSON.")
	return Prompt{
		Instructions: sb.String(),
		Input: payload(map[string]any{
			"context":    companyContext,
			"brand_hero": brandHero,
		}),
	}
}

// BuildContentPrompt 内容阶段：根据研究结果起草 count 篇帖子。
func BuildContentPrompt(report ResearchReport, brandHero string, strategy *Strategy, count int) Prompt {
	var sb strings.Builder
	sb.WriteString("You are a social media copywriter for the brand described in the input.\n")
	sb.WriteString("Requirements:\n")
	sb.WriteString(fmt.Sprintf("- Write exactly %d posts.\n", count))
	sb.WriteString(fmt.Sprintf("- Each post's content is at most %d characters.\n", maxContentChars))
	sb.WriteString(fmt.Sprintf("- Each post has at most %d hashtags, without the leading '#'.\n", MaxHashtags))
	sb.WriteString("- Feature the brand hero naturally where it fits.\n")
	if strategy != nil {
		if strategy.Tone != "" {
			sb.WriteString(fmt.Sprintf("- Tone: %s.\n", strategy.Tone))
		}
		if len(strategy.Topics) > 0 {
			sb.WriteString(fmt.Sprintf("- Prefer these topics: %s.\n", strings.Join(strategy.Topics, "; ")))
		}
	}
	sb.WriteString("Reply with a JSON array of objects with keys content, hashtags and call_to_action. No other text.")
	input := map[string]any{
		"research":   report,
		"brand_hero": brandHero,
		"num_posts":  count,
	}
	return Prompt{Instructions: sb.String(), Input: payload(input)}
}

// BuildScenePrompt 图片阶段：为单篇帖子写画面描述。
func BuildScenePrompt(post Artifact, brandHero string) Prompt {
	instructions := fmt.Sprintf("You write scene descriptions for an image generator. "+
		"Describe one photorealistic scene that illustrates the post and integrates the brand hero. "+
		"Reply with the description only, at most %d characters.", maxSceneChars)
	return Prompt{
		Instructions: instructions,
		Input: payload(map[string]any{
			"content":    post.Content,
			"hashtags":   post.Hashtags,
			"brand_hero": brandHero,
		}),
	}
}

// BuildEditPrompt 编辑阶段：带上完整帖子和会话标识。
func BuildEditPrompt(post Artifact, companyID, conversationID, userResponse string, finish bool) Prompt {
	var sb strings.Builder
	sb.WriteString("You help the user refine one social media post.\n")
	sb.WriteString("Use update_content, update_hashtags, update_cta, update_image or update_full to change the post, then save when the user is satisfied.\n")
	sb.WriteString("When you call update_image, write a new scene description; never reuse the current one.\n")
	sb.WriteString("If the request is unclear, ask one clarifying question.\n")
	sb.WriteString("When the post is final, reply with the complete post as a JSON object with keys content, hashtags, call_to_action, scene_description and image_url.\n")
	if finish {
		sb.WriteString("The user asked to finish: apply what you have, save, and return the complete post.\n")
	}
	input := map[string]any{
		"company_id":      companyID,
		"conversation_id": conversationID,
		"post":            post,
	}
	if userResponse != "" {
		input["user_response"] = userResponse
	}
	return Prompt{Instructions: sb.String(), Input: payload(input)}
}

// BuildStrategyPrompt 策略阶段：结合趋势与新闻。
func BuildStrategyPrompt(companyContext string, trends []string, news []string) Prompt {
	instructions := "You are a social media strategist. Propose a posting strategy for the company. " +
		"Reply with a JSON object with keys goals, topics, tone, target_audience, post_count, " +
		"content_types, schedule (day name to number of posts) and rationale. No other text."
	return Prompt{
		Instructions: instructions,
		Input: payload(map[string]any{
			"context": companyContext,
			"trends":  trends,
			"news":    news,
		}),
	}
}

// BuildCompetitorPrompt search_competitors 背后的嵌套轮次。
func BuildCompetitorPrompt(company string) Prompt {
	return Prompt{
		Instructions: "List the main competitors of the company and how they position themselves on social media. " +
			"Reply with a JSON object mapping competitor name to a short finding.",
		Input: company,
	}
}

// BuildCompanyContextPrompt 收集公司背景的多轮对话。
func BuildCompanyContextPrompt(userResponse string, finish bool) Prompt {
	var sb strings.Builder
	sb.WriteString("You gather the context needed to write social media posts for a company.\n")
	sb.WriteString("Start by calling get_initial_data. Ask the user one question at a time about anything missing: products, audience, voice, goals.\n")
	sb.WriteString("Once everything is known, call store_context with a complete description and confirm to the user.\n")
	if finish {
		sb.WriteString("The user asked to finish now: call store_context with everything you know and reply with the final description.\n")
	}
	return Prompt{Instructions: sb.String(), Input: userResponse}
}

// BuildBrandHeroPrompt 收集品牌形象（brand hero）的多轮对话。
func BuildBrandHeroPrompt(userResponse string, finish bool) Prompt {
	var sb strings.Builder
	sb.WriteString("You design the brand hero: the recurring character or product that appears in every post.\n")
	sb.WriteString("Call get_company_context first. Ask the user about appearance, personality and setting, one question at a time.\n")
	sb.WriteString("When the description is complete, call store_context with it and then generate_brand_hero.\n")
	if finish {
		sb.WriteString("The user asked to finish now: store what you know, generate the brand hero and reply with the final description.\n")
	}
	return Prompt{Instructions: sb.String(), Input: userResponse}
}

// BuildBrandHeroImagePrompt 为品牌形象生成图片提示词。
func BuildBrandHeroImagePrompt(description string) Prompt {
	return Prompt{
		Instructions: fmt.Sprintf("Write an image generation prompt, at most %d characters, that portrays the brand hero on a clean background. Reply with the prompt only.", maxSceneChars),
		Input:        description,
	}
}

// BuildBrandHeroDescribePrompt 根据生成的形象提炼可复用的描述。
func BuildBrandHeroDescribePrompt(description, imagePrompt string) Prompt {
	return Prompt{
		Instructions: "Summarize the brand hero in two sentences that later image prompts can reuse verbatim. Reply with the sentences only.",
		Input: payload(map[string]any{
			"description":  description,
			"image_prompt": imagePrompt,
		}),
	}
}

func payload(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// clip 把模型文本截断到 limit 个字符。
func clip(s string, limit int) string {
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return strings.TrimSpace(string(rs[:limit]))
}
